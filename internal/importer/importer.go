// Package importer drives the synchronization of visitor sessions into
// CRM leads: incremental import with a forward-only watermark, and the
// one-shot backfill matcher for leads that predate the sync.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sitetrail/leadsync/internal/crm"
	"github.com/sitetrail/leadsync/internal/leadrebel"
	"github.com/sitetrail/leadsync/internal/normalize"
	"go.uber.org/zap"
)

var (
	errMissingSource = errors.New("session source is required")
	errMissingStore  = errors.New("document store is required")
)

// ServiceError carries an operation-scoped error code for callers that
// map failures onto responses.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opNew    = "importer.new"
	opImport = "importer.import_sessions"
	opMatch  = "importer.match_existing_leads"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// SessionSource is the remote feed consumed by the importer. The
// lifecycle is scoped: Open before fetching, Close on every exit path.
type SessionSource interface {
	Open()
	Close()
	FetchNewSessions(ctx context.Context, since *time.Time) ([]leadrebel.Session, error)
	FetchAllSessions(ctx context.Context) ([]leadrebel.Session, error)
	FetchCompany(ctx context.Context, companyID string) (leadrebel.Company, error)
}

// Settings carries the destination defaults and normalization
// configuration for one import invocation. Immutable during a run.
type Settings struct {
	LeadSource              string
	LeadOwner               string
	QualificationStatus     string
	SalutationMr            string
	SalutationMrs           string
	DefaultPhoneCountryCode string
	Location                *time.Location
}

// Config describes importer dependencies.
type Config struct {
	Source   SessionSource
	Store    *crm.Store
	Settings Settings
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Importer orchestrates session import and backfill matching. Execution
// is strictly sequential; each persistence call commits independently
// while the watermark only advances after a fully successful batch.
type Importer struct {
	source   SessionSource
	store    *crm.Store
	settings Settings
	clock    func() time.Time
	logger   *zap.Logger
}

// New constructs an Importer and validates its dependencies.
func New(cfg Config) (*Importer, error) {
	if cfg.Source == nil {
		return nil, newServiceError(opNew, "missing_source", errMissingSource)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := cfg.Settings
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Importer{
		source:   cfg.Source,
		store:    cfg.Store,
		settings: settings,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Result reports the outcome of one operation.
type Result struct {
	Sessions int
	Message  string
}

// ImportSessions fetches the sessions recorded since the watermark and
// imports them one by one. The watermark advances to now only after
// every session in the batch has been processed.
func (i *Importer) ImportSessions(ctx context.Context) (Result, error) {
	i.source.Open()
	defer i.source.Close()

	since, err := i.store.LastSync(ctx)
	if err != nil {
		return Result{}, newServiceError(opImport, "watermark_read_failed", err)
	}

	sessions, err := i.source.FetchNewSessions(ctx, since)
	if err != nil {
		return Result{}, newServiceError(opImport, "fetch_failed", err)
	}

	for _, session := range sessions {
		if err := i.importSession(ctx, session); err != nil {
			return Result{}, newServiceError(opImport, "session_import_failed", err)
		}
	}

	if err := i.store.AdvanceLastSync(ctx, i.clock()); err != nil {
		return Result{}, newServiceError(opImport, "watermark_advance_failed", err)
	}

	i.logger.Info("sessions imported", zap.Int("count", len(sessions)))
	return Result{
		Sessions: len(sessions),
		Message:  fmt.Sprintf("%d sessions imported.", len(sessions)),
	}, nil
}

// MatchExistingLeads runs the backfill pass: every session in the full
// feed whose company id has no lead yet is matched by trimmed company
// name, and the first matching lead is stamped with the external id.
// No leads are created. The count reports sessions considered.
func (i *Importer) MatchExistingLeads(ctx context.Context) (Result, error) {
	i.source.Open()
	defer i.source.Close()

	sessions, err := i.source.FetchAllSessions(ctx)
	if err != nil {
		return Result{}, newServiceError(opMatch, "fetch_failed", err)
	}

	for _, session := range sessions {
		existing, err := i.store.FindLeadByExternalID(ctx, session.CompanyID)
		if err != nil {
			return Result{}, newServiceError(opMatch, "lead_lookup_failed", err)
		}
		if existing != nil {
			continue
		}

		lead, err := i.store.FindLeadByCompanyName(ctx, strings.TrimSpace(session.CompanyName))
		if err != nil {
			return Result{}, newServiceError(opMatch, "lead_lookup_failed", err)
		}
		if lead == nil {
			continue
		}

		if err := i.store.StampExternalID(ctx, lead.ID, session.CompanyID); err != nil {
			return Result{}, newServiceError(opMatch, "stamp_failed", err)
		}
		i.logger.Info("lead matched",
			zap.String("lead_id", lead.ID),
			zap.String("lr_id", session.CompanyID),
			zap.String("company_name", session.CompanyName))
	}

	i.logger.Info("sessions matched", zap.Int("count", len(sessions)))
	return Result{
		Sessions: len(sessions),
		Message:  fmt.Sprintf("%d sessions matched.", len(sessions)),
	}, nil
}

// importSession resolves the session's lead, creating it from the
// company detail record when absent, then appends every page view not
// imported before. Each new page view persists immediately.
func (i *Importer) importSession(ctx context.Context, session leadrebel.Session) error {
	lead, err := i.store.FindLeadByExternalID(ctx, session.CompanyID)
	if err != nil {
		return err
	}
	if lead == nil {
		lead, err = i.importLead(ctx, session.CompanyID)
		if err != nil {
			return err
		}
	}

	for _, pageView := range session.PageViews {
		exists, err := i.store.HasPageView(ctx, pageView.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		entry := crm.NewPageView{
			ExternalID:      pageView.ID,
			Datetime:        normalize.LocalTimestamp(pageView.Datetime, i.settings.Location),
			Website:         pageView.Website,
			Path:            pageView.PagePath,
			DurationSeconds: pageView.TimeOnPage,
		}
		if err := i.store.AppendPageView(ctx, lead.ID, entry); err != nil {
			return err
		}
	}
	return nil
}

// importLead fetches the company detail record, normalizes its fields
// and creates the lead with its optional note and address.
func (i *Importer) importLead(ctx context.Context, companyID string) (*crm.Lead, error) {
	company, err := i.source.FetchCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	salutations := normalize.Salutations{
		Mr:  i.settings.SalutationMr,
		Mrs: i.settings.SalutationMrs,
	}
	salutation, firstName, lastName := normalize.SplitName(salutations, leadrebel.StringValue(company.ContactName))

	input := crm.NewLead{
		ExternalID:          company.ID,
		QualificationStatus: i.settings.QualificationStatus,
		Source:              i.settings.LeadSource,
		Owner:               i.settings.LeadOwner,
		Salutation:          salutation,
		FirstName:           firstName,
		LastName:            lastName,
		CompanyName:         company.Name,
		Email:               normalize.Email(leadrebel.StringValue(company.Email)),
		Phone:               normalize.Phone(i.settings.DefaultPhoneCountryCode, leadrebel.StringValue(company.Phone)),
		Website:             leadrebel.StringValue(company.Website),
		Note:                leadrebel.StringValue(company.Description),
	}

	street := normalize.Street(
		leadrebel.StringValue(company.FullAddress),
		leadrebel.StringValue(company.Postal),
		leadrebel.StringValue(company.City),
	)
	if street != "" {
		countryName, err := i.store.CountryNameByCode(ctx, company.CountryCode)
		if err != nil {
			return nil, err
		}
		input.Address = &crm.NewAddress{
			Title:   strings.TrimSpace(company.Name),
			Line1:   street,
			City:    leadrebel.StringValue(company.City),
			Pincode: leadrebel.StringValue(company.Postal),
			Country: countryName,
			Phone:   input.Phone,
		}
	}

	return i.store.CreateLead(ctx, input)
}
