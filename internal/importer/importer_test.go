package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/sitetrail/leadsync/internal/crm"
	"github.com/sitetrail/leadsync/internal/leadrebel"
	"gorm.io/gorm"
)

type fakeSource struct {
	sessions    []leadrebel.Session
	companies   map[string]leadrebel.Company
	fetchErr    error
	openCalls   int
	closeCalls  int
	lastMinDate *time.Time
}

func (f *fakeSource) Open()  { f.openCalls++ }
func (f *fakeSource) Close() { f.closeCalls++ }

func (f *fakeSource) FetchNewSessions(_ context.Context, since *time.Time) ([]leadrebel.Session, error) {
	f.lastMinDate = since
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.sessions, nil
}

func (f *fakeSource) FetchAllSessions(context.Context) ([]leadrebel.Session, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.sessions, nil
}

func (f *fakeSource) FetchCompany(_ context.Context, companyID string) (leadrebel.Company, error) {
	company, ok := f.companies[companyID]
	if !ok {
		return leadrebel.Company{}, errors.New("unknown company")
	}
	return company, nil
}

func newTestStore(testContext *testing.T) (*crm.Store, *gorm.DB) {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "crm.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&crm.Lead{}, &crm.LeadPageView{}, &crm.Address{}, &crm.LeadNote{}, &crm.Country{}, &crm.SyncState{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := database.Create(&crm.Country{Code: "de", Name: "Germany"}).Error; err != nil {
		testContext.Fatalf("failed to seed country: %v", err)
	}
	store, err := crm.NewStore(crm.StoreConfig{Database: database, IDProvider: crm.NewUUIDProvider()})
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}
	return store, database
}

func stringPointer(value string) *string {
	return &value
}

func testSettings() Settings {
	return Settings{
		LeadSource:              "LeadRebel",
		LeadOwner:               "sales@example.de",
		QualificationStatus:     "Unqualified",
		SalutationMr:            "Mr",
		SalutationMrs:           "Mrs",
		DefaultPhoneCountryCode: "49",
		Location:                time.UTC,
	}
}

func newTestImporter(testContext *testing.T, source SessionSource, store *crm.Store, clock func() time.Time) *Importer {
	testContext.Helper()
	instance, err := New(Config{
		Source:   source,
		Store:    store,
		Settings: testSettings(),
		Clock:    clock,
	})
	if err != nil {
		testContext.Fatalf("failed to construct importer: %v", err)
	}
	return instance
}

func sampleSession() leadrebel.Session {
	return leadrebel.Session{
		CompanyID:   "company-1",
		CompanyName: "Musterfirma GmbH",
		CountryCode: "DE",
		PageViews: []leadrebel.PageView{
			{ID: "pv-1", Datetime: "2024-07-01T10:00:00Z", Website: "example.de", PagePath: "/pricing", TimeOnPage: 42},
			{ID: "pv-2", Datetime: "2024-07-01T10:01:00Z", Website: "example.de", PagePath: "/contact", TimeOnPage: 13},
		},
	}
}

func sampleCompany() leadrebel.Company {
	return leadrebel.Company{
		ID:          "company-1",
		Name:        "Musterfirma GmbH",
		CountryCode: "DE",
		ContactName: stringPointer("Herr Max Mustermann"),
		Email:       stringPointer("Müller@Beispiel.de"),
		Phone:       stringPointer("030 1234567"),
		Website:     stringPointer("https://example.de"),
		FullAddress: stringPointer("Musterstraße 12 10115 Berlin"),
		Postal:      stringPointer("10115"),
		City:        stringPointer("Berlin"),
		Description: stringPointer("Visited the pricing page twice."),
	}
}

func TestImportSessionsCreatesLeadWithCompanions(testContext *testing.T) {
	store, _ := newTestStore(testContext)
	source := &fakeSource{
		sessions:  []leadrebel.Session{sampleSession()},
		companies: map[string]leadrebel.Company{"company-1": sampleCompany()},
	}
	now := time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC)
	instance := newTestImporter(testContext, source, store, func() time.Time { return now })

	result, err := instance.ImportSessions(context.Background())
	if err != nil {
		testContext.Fatalf("import failed: %v", err)
	}
	if result.Sessions != 1 {
		testContext.Fatalf("expected 1 session processed, got %d", result.Sessions)
	}
	if result.Message != "1 sessions imported." {
		testContext.Fatalf("unexpected message: %q", result.Message)
	}

	lead, err := store.FindLeadByExternalID(context.Background(), "company-1")
	if err != nil {
		testContext.Fatalf("lead lookup failed: %v", err)
	}
	if lead == nil {
		testContext.Fatalf("expected lead to be created")
	}
	if lead.Salutation != "Mr" || lead.FirstName != "Max" || lead.LastName != "Mustermann" {
		testContext.Fatalf("unexpected name fields: %q %q %q", lead.Salutation, lead.FirstName, lead.LastName)
	}
	if lead.Email != "mueller@beispiel.de" {
		testContext.Fatalf("unexpected email: %q", lead.Email)
	}
	if lead.Phone != "+49-301234567" {
		testContext.Fatalf("unexpected phone: %q", lead.Phone)
	}
	if lead.Source != "LeadRebel" || lead.Owner != "sales@example.de" {
		testContext.Fatalf("unexpected defaults: %q %q", lead.Source, lead.Owner)
	}

	for _, pageViewID := range []string{"pv-1", "pv-2"} {
		exists, err := store.HasPageView(context.Background(), pageViewID)
		if err != nil {
			testContext.Fatalf("page view lookup failed: %v", err)
		}
		if !exists {
			testContext.Fatalf("expected page view %s to be imported", pageViewID)
		}
	}

	watermark, err := store.LastSync(context.Background())
	if err != nil {
		testContext.Fatalf("watermark read failed: %v", err)
	}
	if watermark == nil || !watermark.Equal(now) {
		testContext.Fatalf("expected watermark %v, got %v", now, watermark)
	}

	if source.openCalls != 1 || source.closeCalls != 1 {
		testContext.Fatalf("expected one open/close pair, got %d/%d", source.openCalls, source.closeCalls)
	}
}

func TestImportSessionsIsIdempotent(testContext *testing.T) {
	store, database := newTestStore(testContext)
	source := &fakeSource{
		sessions:  []leadrebel.Session{sampleSession()},
		companies: map[string]leadrebel.Company{"company-1": sampleCompany()},
	}
	instance := newTestImporter(testContext, source, store, time.Now)

	for run := 0; run < 2; run++ {
		if _, err := instance.ImportSessions(context.Background()); err != nil {
			testContext.Fatalf("import run %d failed: %v", run, err)
		}
	}

	var leadCount int64
	if err := database.Model(&crm.Lead{}).Count(&leadCount).Error; err != nil {
		testContext.Fatalf("failed to count leads: %v", err)
	}
	if leadCount != 1 {
		testContext.Fatalf("expected exactly one lead after repeated import, got %d", leadCount)
	}

	var pageViewCount int64
	if err := database.Model(&crm.LeadPageView{}).Count(&pageViewCount).Error; err != nil {
		testContext.Fatalf("failed to count page views: %v", err)
	}
	if pageViewCount != 2 {
		testContext.Fatalf("expected exactly two page views after repeated import, got %d", pageViewCount)
	}
}

func TestImportSessionsSkipsAddressWithoutStreet(testContext *testing.T) {
	store, database := newTestStore(testContext)
	company := sampleCompany()
	company.FullAddress = nil
	company.Description = nil
	source := &fakeSource{
		sessions:  []leadrebel.Session{sampleSession()},
		companies: map[string]leadrebel.Company{"company-1": company},
	}
	instance := newTestImporter(testContext, source, store, time.Now)

	if _, err := instance.ImportSessions(context.Background()); err != nil {
		testContext.Fatalf("import failed: %v", err)
	}

	var addressCount int64
	if err := database.Model(&crm.Address{}).Count(&addressCount).Error; err != nil {
		testContext.Fatalf("failed to count addresses: %v", err)
	}
	if addressCount != 0 {
		testContext.Fatalf("expected no address without a derivable street, got %d", addressCount)
	}

	var noteCount int64
	if err := database.Model(&crm.LeadNote{}).Count(&noteCount).Error; err != nil {
		testContext.Fatalf("failed to count notes: %v", err)
	}
	if noteCount != 0 {
		testContext.Fatalf("expected no note without a description, got %d", noteCount)
	}
}

func TestImportSessionsLeavesWatermarkOnFetchFailure(testContext *testing.T) {
	store, _ := newTestStore(testContext)
	source := &fakeSource{fetchErr: errors.New("upstream down")}
	instance := newTestImporter(testContext, source, store, time.Now)

	if _, err := instance.ImportSessions(context.Background()); err == nil {
		testContext.Fatalf("expected fetch failure to propagate")
	}

	watermark, err := store.LastSync(context.Background())
	if err != nil {
		testContext.Fatalf("watermark read failed: %v", err)
	}
	if watermark != nil {
		testContext.Fatalf("expected watermark to stay unset, got %v", watermark)
	}
	if source.closeCalls != 1 {
		testContext.Fatalf("expected source to be closed on failure, got %d close calls", source.closeCalls)
	}
}

func TestImportSessionsPassesWatermarkToSource(testContext *testing.T) {
	store, _ := newTestStore(testContext)
	watermark := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	if err := store.AdvanceLastSync(context.Background(), watermark); err != nil {
		testContext.Fatalf("failed to seed watermark: %v", err)
	}

	source := &fakeSource{}
	instance := newTestImporter(testContext, source, store, time.Now)
	if _, err := instance.ImportSessions(context.Background()); err != nil {
		testContext.Fatalf("import failed: %v", err)
	}

	if source.lastMinDate == nil || !source.lastMinDate.Equal(watermark) {
		testContext.Fatalf("expected source to receive watermark %v, got %v", watermark, source.lastMinDate)
	}
}

func TestMatchExistingLeadsStampsByCompanyName(testContext *testing.T) {
	store, database := newTestStore(testContext)
	legacy, err := store.CreateLead(context.Background(), crm.NewLead{ExternalID: "placeholder", CompanyName: "Musterfirma GmbH"})
	if err != nil {
		testContext.Fatalf("failed to create legacy lead: %v", err)
	}
	if err := database.Model(&crm.Lead{}).Where("id = ?", legacy.ID).Update("lr_id", "").Error; err != nil {
		testContext.Fatalf("failed to clear external id: %v", err)
	}

	source := &fakeSource{sessions: []leadrebel.Session{
		{CompanyID: "company-1", CompanyName: "  Musterfirma GmbH  "},
		{CompanyID: "company-2", CompanyName: "Unbekannt AG"},
	}}
	instance := newTestImporter(testContext, source, store, time.Now)

	result, err := instance.MatchExistingLeads(context.Background())
	if err != nil {
		testContext.Fatalf("match failed: %v", err)
	}
	if result.Sessions != 2 {
		testContext.Fatalf("expected 2 sessions considered, got %d", result.Sessions)
	}
	if result.Message != "2 sessions matched." {
		testContext.Fatalf("unexpected message: %q", result.Message)
	}

	stamped, err := store.FindLeadByExternalID(context.Background(), "company-1")
	if err != nil {
		testContext.Fatalf("lead lookup failed: %v", err)
	}
	if stamped == nil || stamped.ID != legacy.ID {
		testContext.Fatalf("expected legacy lead to be stamped, got %+v", stamped)
	}

	var leadCount int64
	if err := database.Model(&crm.Lead{}).Count(&leadCount).Error; err != nil {
		testContext.Fatalf("failed to count leads: %v", err)
	}
	if leadCount != 1 {
		testContext.Fatalf("expected backfill to create no leads, got %d", leadCount)
	}
}

func TestMatchExistingLeadsSkipsResolvedCompanies(testContext *testing.T) {
	store, _ := newTestStore(testContext)
	resolved, err := store.CreateLead(context.Background(), crm.NewLead{ExternalID: "company-1", CompanyName: "Musterfirma GmbH"})
	if err != nil {
		testContext.Fatalf("failed to create lead: %v", err)
	}

	source := &fakeSource{sessions: []leadrebel.Session{
		{CompanyID: "company-1", CompanyName: "Musterfirma GmbH"},
	}}
	instance := newTestImporter(testContext, source, store, time.Now)

	if _, err := instance.MatchExistingLeads(context.Background()); err != nil {
		testContext.Fatalf("match failed: %v", err)
	}

	reloaded, err := store.FindLeadByExternalID(context.Background(), "company-1")
	if err != nil {
		testContext.Fatalf("lead lookup failed: %v", err)
	}
	if reloaded == nil || reloaded.ID != resolved.ID {
		testContext.Fatalf("expected resolved lead to stay untouched, got %+v", reloaded)
	}
}
