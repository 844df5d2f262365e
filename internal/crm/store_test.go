package crm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "crm.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&Lead{}, &LeadPageView{}, &Address{}, &LeadNote{}, &Country{}, &SyncState{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newTestStore(testContext *testing.T) *Store {
	testContext.Helper()
	store, err := NewStore(StoreConfig{
		Database:   openTestDatabase(testContext),
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestNewStoreRequiresDatabase(testContext *testing.T) {
	if _, err := NewStore(StoreConfig{IDProvider: NewUUIDProvider()}); err == nil {
		testContext.Fatalf("expected error for missing database")
	}
}

func TestCreateLeadPersistsCompanions(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	created, err := store.CreateLead(ctx, NewLead{
		ExternalID:  "company-1",
		Source:      "LeadRebel",
		CompanyName: "  Musterfirma GmbH  ",
		Note:        "Visited pricing page twice.",
		Address: &NewAddress{
			Title:   "Musterfirma GmbH",
			Line1:   "Musterstraße 12",
			City:    "Berlin",
			Pincode: "10115",
			Country: "Germany",
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create lead: %v", err)
	}
	if created.ID == "" {
		testContext.Fatalf("expected generated lead id")
	}
	if created.CompanyName != "Musterfirma GmbH" {
		testContext.Fatalf("expected trimmed company name, got %q", created.CompanyName)
	}
	if created.Status != "Open" || created.Type != "Client" {
		testContext.Fatalf("unexpected lead defaults: %q %q", created.Status, created.Type)
	}
	if created.QualificationStatus != "Unqualified" {
		testContext.Fatalf("expected qualification fallback, got %q", created.QualificationStatus)
	}

	var noteCount int64
	if err := store.db.Model(&LeadNote{}).Where("lead_id = ?", created.ID).Count(&noteCount).Error; err != nil {
		testContext.Fatalf("failed to count notes: %v", err)
	}
	if noteCount != 1 {
		testContext.Fatalf("expected exactly one note, got %d", noteCount)
	}

	var address Address
	if err := store.db.Where("lead_id = ?", created.ID).Take(&address).Error; err != nil {
		testContext.Fatalf("failed to load address: %v", err)
	}
	if address.AddressType != "Billing" || !address.IsShipping || !address.IsPrimary {
		testContext.Fatalf("unexpected address flags: %+v", address)
	}
}

func TestFindLeadByExternalID(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	if _, err := store.CreateLead(ctx, NewLead{ExternalID: "company-7", CompanyName: "Beispiel AG"}); err != nil {
		testContext.Fatalf("failed to create lead: %v", err)
	}

	found, err := store.FindLeadByExternalID(ctx, "company-7")
	if err != nil {
		testContext.Fatalf("lookup failed: %v", err)
	}
	if found == nil || found.CompanyName != "Beispiel AG" {
		testContext.Fatalf("expected stored lead, got %+v", found)
	}

	missing, err := store.FindLeadByExternalID(ctx, "company-unknown")
	if err != nil {
		testContext.Fatalf("lookup failed: %v", err)
	}
	if missing != nil {
		testContext.Fatalf("expected nil for unknown external id, got %+v", missing)
	}
}

func TestFindLeadByCompanyNameTrimsInput(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	if _, err := store.CreateLead(ctx, NewLead{ExternalID: "company-9", CompanyName: "Beispiel AG"}); err != nil {
		testContext.Fatalf("failed to create lead: %v", err)
	}

	found, err := store.FindLeadByCompanyName(ctx, "  Beispiel AG  ")
	if err != nil {
		testContext.Fatalf("lookup failed: %v", err)
	}
	if found == nil {
		testContext.Fatalf("expected lead for trimmed name match")
	}

	missing, err := store.FindLeadByCompanyName(ctx, "")
	if err != nil {
		testContext.Fatalf("lookup failed: %v", err)
	}
	if missing != nil {
		testContext.Fatalf("expected nil for empty name, got %+v", missing)
	}
}

func TestAppendPageViewAndExistenceCheck(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	lead, err := store.CreateLead(ctx, NewLead{ExternalID: "company-3", CompanyName: "Beispiel AG"})
	if err != nil {
		testContext.Fatalf("failed to create lead: %v", err)
	}

	exists, err := store.HasPageView(ctx, "pv-1")
	if err != nil {
		testContext.Fatalf("existence check failed: %v", err)
	}
	if exists {
		testContext.Fatalf("expected page view to be absent before append")
	}

	pageView := NewPageView{
		ExternalID:      "pv-1",
		Datetime:        "2024-07-01 12:00:00",
		Website:         "example.de",
		Path:            "/pricing",
		DurationSeconds: 42,
	}
	if err := store.AppendPageView(ctx, lead.ID, pageView); err != nil {
		testContext.Fatalf("failed to append page view: %v", err)
	}

	exists, err = store.HasPageView(ctx, "pv-1")
	if err != nil {
		testContext.Fatalf("existence check failed: %v", err)
	}
	if !exists {
		testContext.Fatalf("expected page view to exist after append")
	}
}

func TestStampExternalID(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	lead := Lead{ID: "lead-legacy", Type: "Client", Status: "Open", QualificationStatus: "Unqualified", CompanyName: "Alt GmbH"}
	if err := store.db.Create(&lead).Error; err != nil {
		testContext.Fatalf("failed to insert legacy lead: %v", err)
	}

	if err := store.StampExternalID(ctx, lead.ID, "company-42"); err != nil {
		testContext.Fatalf("failed to stamp external id: %v", err)
	}

	stamped, err := store.FindLeadByExternalID(ctx, "company-42")
	if err != nil {
		testContext.Fatalf("lookup failed: %v", err)
	}
	if stamped == nil || stamped.ID != "lead-legacy" {
		testContext.Fatalf("expected legacy lead to carry the external id, got %+v", stamped)
	}
}

func TestCountryNameByCode(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	if err := store.db.Create(&Country{Code: "de", Name: "Germany"}).Error; err != nil {
		testContext.Fatalf("failed to seed country: %v", err)
	}

	name, err := store.CountryNameByCode(ctx, "DE")
	if err != nil {
		testContext.Fatalf("country lookup failed: %v", err)
	}
	if name != "Germany" {
		testContext.Fatalf("expected Germany, got %q", name)
	}

	unknown, err := store.CountryNameByCode(ctx, "zz")
	if err != nil {
		testContext.Fatalf("country lookup failed: %v", err)
	}
	if unknown != "" {
		testContext.Fatalf("expected empty name for unknown code, got %q", unknown)
	}
}

func TestAdvanceLastSyncOnlyMovesForward(testContext *testing.T) {
	store := newTestStore(testContext)
	ctx := context.Background()

	initial, err := store.LastSync(ctx)
	if err != nil {
		testContext.Fatalf("watermark read failed: %v", err)
	}
	if initial != nil {
		testContext.Fatalf("expected no watermark before first import, got %v", initial)
	}

	first := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	if err := store.AdvanceLastSync(ctx, first); err != nil {
		testContext.Fatalf("failed to advance watermark: %v", err)
	}

	stored, err := store.LastSync(ctx)
	if err != nil {
		testContext.Fatalf("watermark read failed: %v", err)
	}
	if stored == nil || !stored.Equal(first) {
		testContext.Fatalf("expected watermark %v, got %v", first, stored)
	}

	if err := store.AdvanceLastSync(ctx, first.Add(-time.Hour)); err == nil {
		testContext.Fatalf("expected regression to be rejected")
	}

	second := first.Add(time.Hour)
	if err := store.AdvanceLastSync(ctx, second); err != nil {
		testContext.Fatalf("failed to advance watermark: %v", err)
	}
	stored, err = store.LastSync(ctx)
	if err != nil {
		testContext.Fatalf("watermark read failed: %v", err)
	}
	if stored == nil || !stored.Equal(second) {
		testContext.Fatalf("expected watermark %v, got %v", second, stored)
	}
}
