package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const syncStateRowID = 1

var (
	// ErrMissingDatabase indicates the store was constructed without a connection.
	ErrMissingDatabase = errors.New("crm: database handle is required")
	// ErrMissingIDProvider indicates the store was constructed without an id source.
	ErrMissingIDProvider = errors.New("crm: id provider is required")
	// ErrMissingLeadID indicates a lead-scoped operation received no lead id.
	ErrMissingLeadID = errors.New("crm: lead id is required")
	// ErrMissingExternalID indicates an external identifier was empty.
	ErrMissingExternalID = errors.New("crm: external id is required")
	// ErrWatermarkRegression indicates an attempt to move the watermark backwards.
	ErrWatermarkRegression = errors.New("crm: watermark may only advance")
)

// IDProvider issues identifiers for newly created records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the document store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the destination document store for leads, their page views,
// addresses and the sync watermark.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the store and validates its dependencies.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, ErrMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// FindLeadByExternalID returns the lead carrying the remote company id,
// or nil when no such lead exists.
func (s *Store) FindLeadByExternalID(ctx context.Context, companyID string) (*Lead, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, ErrMissingExternalID
	}
	var lead Lead
	err := s.db.WithContext(ctx).Where("lr_id = ?", companyID).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crm: lead lookup by external id failed: %w", err)
	}
	return &lead, nil
}

// FindLeadByCompanyName returns the first lead whose stored company name
// matches the trimmed input, or nil when none matches. Duplicate names
// are not disambiguated.
func (s *Store) FindLeadByCompanyName(ctx context.Context, companyName string) (*Lead, error) {
	name := strings.TrimSpace(companyName)
	if name == "" {
		return nil, nil
	}
	var lead Lead
	err := s.db.WithContext(ctx).Where("company_name = ?", name).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crm: lead lookup by company name failed: %w", err)
	}
	return &lead, nil
}

// HasPageView reports whether a page view with the given remote id has
// already been imported, for any lead.
func (s *Store) HasPageView(ctx context.Context, externalID string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, ErrMissingExternalID
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&LeadPageView{}).Where("lr_id = ?", externalID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("crm: page view lookup failed: %w", err)
	}
	return count > 0, nil
}

// NewAddress carries the fields for the address created with a new lead.
type NewAddress struct {
	Title   string
	Line1   string
	City    string
	Pincode string
	Country string
	Phone   string
}

// NewLead carries the normalized fields for a lead to be created. Note
// and Address are optional companions created in the same transaction.
type NewLead struct {
	ExternalID          string
	QualificationStatus string
	Source              string
	Owner               string
	Salutation          string
	FirstName           string
	LastName            string
	CompanyName         string
	Email               string
	Phone               string
	Website             string
	Note                string
	Address             *NewAddress
}

// CreateLead inserts a lead with its optional note and address and
// returns the stored record. A lead is created at most once per remote
// company id; callers resolve by external id first.
func (s *Store) CreateLead(ctx context.Context, input NewLead) (*Lead, error) {
	if strings.TrimSpace(input.ExternalID) == "" {
		return nil, ErrMissingExternalID
	}

	leadID, err := s.idProvider.NewID()
	if err != nil {
		return nil, fmt.Errorf("crm: lead id generation failed: %w", err)
	}

	lead := Lead{
		ID:                  leadID,
		ExternalID:          input.ExternalID,
		Type:                "Client",
		Status:              "Open",
		QualificationStatus: input.QualificationStatus,
		Source:              input.Source,
		Owner:               input.Owner,
		Salutation:          input.Salutation,
		FirstName:           input.FirstName,
		LastName:            input.LastName,
		CompanyName:         strings.TrimSpace(input.CompanyName),
		Email:               input.Email,
		Phone:               input.Phone,
		Website:             input.Website,
	}
	if lead.QualificationStatus == "" {
		lead.QualificationStatus = "Unqualified"
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lead).Error; err != nil {
			return fmt.Errorf("crm: lead insert failed: %w", err)
		}

		if input.Note != "" {
			noteID, err := s.idProvider.NewID()
			if err != nil {
				return fmt.Errorf("crm: note id generation failed: %w", err)
			}
			note := LeadNote{ID: noteID, LeadID: lead.ID, Note: input.Note}
			if err := tx.Create(&note).Error; err != nil {
				return fmt.Errorf("crm: note insert failed: %w", err)
			}
		}

		if input.Address != nil {
			addressID, err := s.idProvider.NewID()
			if err != nil {
				return fmt.Errorf("crm: address id generation failed: %w", err)
			}
			address := Address{
				ID:          addressID,
				LeadID:      lead.ID,
				AddressType: "Billing",
				IsShipping:  true,
				IsPrimary:   true,
				Title:       input.Address.Title,
				Line1:       input.Address.Line1,
				City:        input.Address.City,
				Pincode:     input.Address.Pincode,
				Country:     input.Address.Country,
				Phone:       input.Address.Phone,
			}
			if err := tx.Create(&address).Error; err != nil {
				return fmt.Errorf("crm: address insert failed: %w", err)
			}
		}

		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("lead created",
		zap.String("lead_id", lead.ID),
		zap.String("lr_id", lead.ExternalID),
		zap.String("company_name", lead.CompanyName))

	var stored Lead
	if err := s.db.WithContext(ctx).Where("id = ?", lead.ID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("crm: lead reload failed: %w", err)
	}
	return &stored, nil
}

// NewPageView carries the normalized fields for one page view entry.
type NewPageView struct {
	ExternalID      string
	Datetime        string
	Website         string
	Path            string
	DurationSeconds int64
}

// AppendPageView persists one page view for the lead. Each call commits
// independently so a partial import survives a later failure.
func (s *Store) AppendPageView(ctx context.Context, leadID string, input NewPageView) error {
	if strings.TrimSpace(leadID) == "" {
		return ErrMissingLeadID
	}
	if strings.TrimSpace(input.ExternalID) == "" {
		return ErrMissingExternalID
	}

	pageViewID, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("crm: page view id generation failed: %w", err)
	}

	pageView := LeadPageView{
		ID:              pageViewID,
		ExternalID:      input.ExternalID,
		LeadID:          leadID,
		Datetime:        input.Datetime,
		Website:         input.Website,
		Path:            input.Path,
		DurationSeconds: input.DurationSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&pageView).Error; err != nil {
		return fmt.Errorf("crm: page view insert failed: %w", err)
	}
	return nil
}

// StampExternalID attaches the remote company id to an existing lead.
// Used by the backfill matcher; never creates a lead.
func (s *Store) StampExternalID(ctx context.Context, leadID, companyID string) error {
	if strings.TrimSpace(leadID) == "" {
		return ErrMissingLeadID
	}
	if strings.TrimSpace(companyID) == "" {
		return ErrMissingExternalID
	}
	err := s.db.WithContext(ctx).Model(&Lead{}).
		Where("id = ?", leadID).
		Update("lr_id", companyID).Error
	if err != nil {
		return fmt.Errorf("crm: external id stamp failed: %w", err)
	}
	return nil
}

// CountryNameByCode resolves a two-letter country code to the CRM
// country name. Unknown codes yield an empty string.
func (s *Store) CountryNameByCode(ctx context.Context, code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		return "", nil
	}
	var country Country
	err := s.db.WithContext(ctx).Where("code = ?", normalized).Take(&country).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("crm: country lookup failed: %w", err)
	}
	return country.Name, nil
}

// LastSync returns the current watermark, or nil before the first
// successful import.
func (s *Store) LastSync(ctx context.Context) (*time.Time, error) {
	var state SyncState
	err := s.db.WithContext(ctx).Where("id = ?", syncStateRowID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crm: sync state read failed: %w", err)
	}
	return state.LastSync, nil
}

// AdvanceLastSync moves the watermark forward. Regressions are rejected;
// the watermark only advances after a fully successful import pass.
func (s *Store) AdvanceLastSync(ctx context.Context, moment time.Time) error {
	current, err := s.LastSync(ctx)
	if err != nil {
		return err
	}
	if current != nil && moment.Before(*current) {
		return ErrWatermarkRegression
	}

	stamp := moment.UTC()
	state := SyncState{ID: syncStateRowID, LastSync: &stamp}
	if err := s.db.WithContext(ctx).Save(&state).Error; err != nil {
		return fmt.Errorf("crm: sync state write failed: %w", err)
	}
	return nil
}
