package leadrebel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCompanyID indicates a session or company record arrived
	// without its identifier.
	ErrMissingCompanyID = errors.New("leadrebel: company id is required")
	// ErrMissingPageViewID indicates a page view arrived without its identifier.
	ErrMissingPageViewID = errors.New("leadrebel: page view id is required")
)

// PageView is one tracked page view inside a visitor session.
type PageView struct {
	ID         string `json:"id"`
	Datetime   string `json:"datetime"`
	Website    string `json:"website"`
	PagePath   string `json:"pagePath"`
	TimeOnPage int64  `json:"timeOnPage"`
}

// Session aggregates one visitor's page views, keyed by the company the
// tracker attributed the visit to. Sessions are transient: the importer
// decomposes them into lead and page view records.
type Session struct {
	CompanyID   string     `json:"companyId"`
	CompanyName string     `json:"companyName"`
	CountryCode string     `json:"countryCode"`
	PageViews   []PageView `json:"pageViews"`
}

func (s Session) validate() error {
	if strings.TrimSpace(s.CompanyID) == "" {
		return ErrMissingCompanyID
	}
	for _, pageView := range s.PageViews {
		if strings.TrimSpace(pageView.ID) == "" {
			return fmt.Errorf("%w: session %s", ErrMissingPageViewID, s.CompanyID)
		}
	}
	return nil
}

// Company is the detail record fetched lazily when a session resolves to
// no existing lead. Optional fields are nullable; absence degrades to an
// absent lead field downstream.
type Company struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CountryCode string  `json:"countryCode"`
	ContactName *string `json:"contactName"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Website     *string `json:"website"`
	FullAddress *string `json:"fullAddress"`
	Postal      *string `json:"postal"`
	City        *string `json:"city"`
	Description *string `json:"description"`
}

func (c Company) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingCompanyID
	}
	return nil
}

// StringValue unwraps an optional field, mapping absence to the empty
// string the normalizers fail closed on.
func StringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
