package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pointshop/shopauth/audit"
	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "shopauth.db")
	repo, err := NewStorage("sqlite", dsn, Options{})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestUnknownProvider(t *testing.T) {
	if _, err := NewStorage("oracle", "", Options{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRepositoryIdentityLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ident := &identity.Identity{
		Username:     "alice",
		Email:        "alice@x.com",
		Role:         identity.RoleCustomer,
		PasswordHash: "hash",
	}
	if err := repo.Insert(ctx, ident); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ident.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	byEmail, err := repo.FindByEmail(ctx, "alice@x.com")
	if err != nil || byEmail.ID != ident.ID {
		t.Fatalf("find by email: %+v, %v", byEmail, err)
	}
	byID, err := repo.FindByID(ctx, ident.ID)
	if err != nil || byID.Username != "alice" || byID.PasswordHash != "hash" {
		t.Fatalf("find by id: %+v, %v", byID, err)
	}
	if byID.Whatsapp != nil {
		t.Errorf("expected no contact, got %v", *byID.Whatsapp)
	}

	if _, err := repo.FindByEmailOrUsername(ctx, "nobody@x.com", "alice"); err != nil {
		t.Errorf("expected username match: %v", err)
	}
	if _, err := repo.FindByEmailOrUsername(ctx, "alice@x.com", "nobody"); err != nil {
		t.Errorf("expected email match: %v", err)
	}

	if _, err := repo.FindByEmail(ctx, "bob@x.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.FindByID(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryRejectsDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Insert(ctx, &identity.Identity{Username: "a", Email: "a@x.com", Role: identity.RoleCustomer}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, dup := range []*identity.Identity{
		{Username: "b", Email: "a@x.com", Role: identity.RoleCustomer},
		{Username: "a", Email: "b@x.com", Role: identity.RoleCustomer},
	} {
		if err := repo.Insert(ctx, dup); !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate for %s/%s, got %v", dup.Username, dup.Email, err)
		}
	}
}

func TestRepositoryUpdateContact(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.Insert(ctx, &identity.Identity{Username: "a", Email: "a@x.com", Role: identity.RoleSeller})

	if err := repo.UpdateContact(ctx, "a@x.com", "0812"); err != nil {
		t.Fatalf("update contact: %v", err)
	}
	got, _ := repo.FindByEmail(ctx, "a@x.com")
	if !got.HasContact() || *got.Whatsapp != "0812" {
		t.Errorf("contact not stored: %v", got.Whatsapp)
	}

	if err := repo.UpdateContact(ctx, "a@x.com", "0812"); err != nil {
		t.Errorf("unchanged update should succeed: %v", err)
	}
	if err := repo.UpdateContact(ctx, "missing@x.com", "1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryCancelledContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindByEmail(ctx, "a@x.com")
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cancelled lookup must fail with a storage error, got %v", err)
	}
}

func TestRepositoryAuditEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []*audit.Event{
		{ID: "1", Type: audit.EventLoginFailure, Status: audit.StatusFailure, Email: "a@x.com", CreatedAt: base},
		{ID: "2", Type: audit.EventLoginSuccess, Status: audit.StatusSuccess, Email: "a@x.com", IdentityID: 1, Duration: 40 * time.Millisecond, CreatedAt: base.Add(time.Minute)},
		{ID: "3", Type: audit.EventLoginFailure, Status: audit.StatusFailure, Email: "b@x.com", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := repo.SaveEvent(ctx, e); err != nil {
			t.Fatalf("save event: %v", err)
		}
	}
	if err := repo.SaveEvent(ctx, events[0]); err != nil {
		t.Fatalf("saving an existing id should be a no-op: %v", err)
	}

	got, err := repo.Events(ctx, "a@x.com", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "2" || got[0].Duration != 40*time.Millisecond {
		t.Errorf("expected newest first, got %+v", got[0])
	}

	all, _ := repo.Events(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
}

func TestRepositoryPing(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
