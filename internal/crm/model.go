package crm

import "time"

// Lead models the destination CRM record a visitor session resolves to.
// ExternalID carries the remote company id and is the primary
// synchronization key; it stays empty for leads that predate the sync
// until the backfill matcher stamps them.
type Lead struct {
	ID                  string    `gorm:"column:id;primaryKey;size:36;not null"`
	ExternalID          string    `gorm:"column:lr_id;size:190;index:idx_leads_lr_id"`
	Type                string    `gorm:"column:type;size:32;not null"`
	Status              string    `gorm:"column:status;size:32;not null"`
	QualificationStatus string    `gorm:"column:qualification_status;size:64;not null"`
	Source              string    `gorm:"column:source;size:190"`
	Owner               string    `gorm:"column:lead_owner;size:190"`
	Salutation          string    `gorm:"column:salutation;size:32"`
	FirstName           string    `gorm:"column:first_name;size:190"`
	LastName            string    `gorm:"column:last_name;size:190"`
	CompanyName         string    `gorm:"column:company_name;size:190;index:idx_leads_company_name"`
	Email               string    `gorm:"column:email_id;size:320"`
	Phone               string    `gorm:"column:phone;size:64"`
	Website             string    `gorm:"column:website;size:512"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Lead) TableName() string {
	return "leads"
}

// LeadPageView is one page view in a lead's append-only visit history.
// ExternalID enforces global at-most-once import per remote page view.
type LeadPageView struct {
	ID              string    `gorm:"column:id;primaryKey;size:36;not null"`
	ExternalID      string    `gorm:"column:lr_id;size:190;uniqueIndex:idx_page_views_lr_id;not null"`
	LeadID          string    `gorm:"column:lead_id;size:36;not null;index:idx_page_views_lead"`
	Datetime        string    `gorm:"column:datetime;size:32"`
	Website         string    `gorm:"column:website;size:512"`
	Path            string    `gorm:"column:path;size:1024"`
	DurationSeconds int64     `gorm:"column:duration_s;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (LeadPageView) TableName() string {
	return "lead_page_views"
}

// Address is the billing address created alongside a new lead when a
// street can be derived from the remote company record.
type Address struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	LeadID      string    `gorm:"column:lead_id;size:36;not null;index:idx_addresses_lead"`
	AddressType string    `gorm:"column:address_type;size:32;not null"`
	IsShipping  bool      `gorm:"column:is_shipping_address;not null;default:false"`
	IsPrimary   bool      `gorm:"column:is_primary_address;not null;default:false"`
	Title       string    `gorm:"column:address_title;size:190"`
	Line1       string    `gorm:"column:address_line1;size:512"`
	City        string    `gorm:"column:city;size:190"`
	Pincode     string    `gorm:"column:pincode;size:32"`
	Country     string    `gorm:"column:country;size:190"`
	Phone       string    `gorm:"column:phone;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Address) TableName() string {
	return "addresses"
}

// LeadNote stores the remote company description as a note on the lead.
type LeadNote struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	LeadID    string    `gorm:"column:lead_id;size:36;not null;index:idx_lead_notes_lead"`
	Note      string    `gorm:"column:note;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (LeadNote) TableName() string {
	return "lead_notes"
}

// Country maps a lower-case two-letter country code to the CRM country name.
type Country struct {
	Code string `gorm:"column:code;primaryKey;size:2;not null"`
	Name string `gorm:"column:name;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Country) TableName() string {
	return "countries"
}

// SyncState is the single-row incremental sync watermark.
type SyncState struct {
	ID       int64      `gorm:"column:id;primaryKey"`
	LastSync *time.Time `gorm:"column:last_sync"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_state"
}
