package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories/memory"
)

func newCatalogFixture(t *testing.T) (CatalogService, *memory.CatalogRepository) {
	t.Helper()
	repo := memory.NewCatalogRepository()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Catalog: repo,
		Clock: func() time.Time {
			return time.Date(2024, time.April, 1, 15, 4, 5, 0, time.FixedZone("JST", 9*60*60))
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc, repo
}

func TestNewCatalogServiceRequiresRepository(t *testing.T) {
	if _, err := NewCatalogService(CatalogServiceDeps{}); err == nil {
		t.Fatal("expected error when repository missing")
	}
}

func TestCatalogEnsureDefaultsIsIdempotent(t *testing.T) {
	svc, _ := newCatalogFixture(t)
	ctx := context.Background()

	inserted, err := svc.EnsureDefaults(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if want := len(domain.DefaultCatalog()); inserted != want {
		t.Fatalf("expected %d entries, got %d", want, inserted)
	}

	again, err := svc.EnsureDefaults(ctx)
	if err != nil {
		t.Fatalf("second EnsureDefaults: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no inserts on second run, got %d", again)
	}
}

func TestCatalogEnsureDefaultsKeepsAdminChanges(t *testing.T) {
	svc, _ := newCatalogFixture(t)
	ctx := context.Background()
	if _, err := svc.EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	inactive := false
	if _, err := svc.Upsert(ctx, CatalogUpsertCommand{Kind: domain.CatalogKindDevice, Name: "iPhone 13", Active: &inactive}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := svc.EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}

	active, err := svc.List(ctx, domain.CatalogKindDevice, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, entry := range active {
		if entry.Name == "iPhone 13" {
			t.Fatal("deactivated device must stay inactive after reseeding")
		}
	}
	all, err := svc.List(ctx, domain.CatalogKindDevice, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != len(active)+1 {
		t.Fatalf("expected inactive device in full listing, got %d vs %d", len(all), len(active))
	}
}

func TestCatalogListActiveCarriersExcludesInactive(t *testing.T) {
	svc, _ := newCatalogFixture(t)
	ctx := context.Background()
	if _, err := svc.EnsureDefaults(ctx); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}

	carriers, err := svc.List(ctx, domain.CatalogKindCarrier, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make([]string, 0, len(carriers))
	for _, c := range carriers {
		names = append(names, c.Name)
	}
	if len(names) != 3 || names[0] != "USPS" {
		t.Fatalf("unexpected carriers %v", names)
	}

	if _, err := svc.List(ctx, "widgets", false); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected unknown kind to be rejected, got %v", err)
	}
}

func TestCatalogUpsertValidatesAndStamps(t *testing.T) {
	svc, repo := newCatalogFixture(t)
	ctx := context.Background()

	saved, err := svc.Upsert(ctx, CatalogUpsertCommand{
		Kind:       domain.CatalogKindColor,
		Name:       "  <b>Mint</b> ",
		Attributes: map[string]string{"hex": "#98FF98", " ": "dropped"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if saved.Name != "Mint" || !saved.Active || saved.UpdatedAt.Location() != time.UTC {
		t.Fatalf("unexpected entry %+v", saved)
	}
	if len(saved.Attributes) != 1 {
		t.Fatalf("expected blank attribute keys dropped, got %v", saved.Attributes)
	}
	stored, err := repo.Get(ctx, domain.CatalogKindColor, "mint")
	if err != nil || stored.Attributes["hex"] != "#98FF98" {
		t.Fatalf("expected stored entry, got %+v err %v", stored, err)
	}

	order := 7
	updated, err := svc.Upsert(ctx, CatalogUpsertCommand{Kind: domain.CatalogKindColor, Name: "Mint", SortOrder: &order})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if updated.SortOrder != 7 || updated.Attributes["hex"] != "#98FF98" {
		t.Fatalf("expected partial update to keep attributes, got %+v", updated)
	}

	tests := []CatalogUpsertCommand{
		{Kind: "widget", Name: "x"},
		{Kind: domain.CatalogKindFont, Name: "   "},
		{Kind: domain.CatalogKindColor, Name: "Bad", Attributes: map[string]string{"hex": "green"}},
	}
	for _, cmd := range tests {
		if _, err := svc.Upsert(ctx, cmd); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Errorf("Upsert(%+v) expected invalid input, got %v", cmd, err)
		}
	}
}

func TestCatalogCaseTypesAndTextValidation(t *testing.T) {
	svc, _ := newCatalogFixture(t)

	types := svc.CaseTypes()
	if len(types) != 2 || types[0].Code != "CLASSIC" || !types[0].Price.Equal(dec("5.95")) || !types[1].Price.Equal(dec("8.95")) {
		t.Fatalf("unexpected case types %+v", types)
	}
	types[0].Code = "MUTATED"
	if svc.CaseTypes()[0].Code != "CLASSIC" {
		t.Fatal("case types must be returned as a copy")
	}

	if got := svc.ValidateText("Mom & Dad"); !got.Valid || got.Length != 9 || got.MaxLength != 20 {
		t.Fatalf("unexpected validation %+v", got)
	}
	if got := svc.ValidateText("a{b}"); got.Valid {
		t.Fatalf("expected braces to be rejected, got %+v", got)
	}
}
