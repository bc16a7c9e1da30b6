package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// requireTestDB connects to a scratch Postgres database for the duration
// of one test, skipping when none is configured. Migrations are expected
// to already be applied to TEST_DATABASE_DSN (see cmd/migrate).
func requireTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping live-Postgres store test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedOrg(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO organizations (id, name) VALUES ($1, $2)`, id, "org-"+id); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return id
}

func baseCanonical(organizationID, fingerprint string) *CanonicalMessage {
	return &CanonicalMessage{
		OrganizationID:   organizationID,
		FingerprintV1:    fingerprint,
		Subject:          "Help with invoice #42",
		FromAddress:      "alice@example.com",
		ToAddresses:      []string{"support@example.com"},
		DateHeader:       time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		BodyText:         "Please see the attached invoice.",
		ParserVersion:    "1",
		SanitizerVersion: "1",
	}
}

// TestFingerprintUniquePerOrganization proves the core exactly-once
// invariant: two canonical rows in the same organization cannot share a
// fingerprint_v1.
func TestFingerprintUniquePerOrganization(t *testing.T) {
	pool := requireTestDB(t)
	ctx := context.Background()
	repo := NewCanonicalRepository(pool)
	orgID := seedOrg(t, pool)

	first := baseCanonical(orgID, "fp-unique-test")
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("insert first canonical: %v", err)
	}

	second := baseCanonical(orgID, "fp-unique-test")
	second.BodyText = "A different body entirely."
	if err := repo.Insert(ctx, second); err == nil {
		t.Fatal("expected unique-violation inserting a second canonical with the same fingerprint in the same organization")
	}
}

// TestFingerprintIsolatedAcrossOrganizations proves the flip side: the
// same fingerprint_v1 is free to exist once per organization, and each
// organization's lookups never see the other's row.
func TestFingerprintIsolatedAcrossOrganizations(t *testing.T) {
	pool := requireTestDB(t)
	ctx := context.Background()
	repo := NewCanonicalRepository(pool)
	orgA := seedOrg(t, pool)
	orgB := seedOrg(t, pool)

	a := baseCanonical(orgA, "fp-shared-across-orgs")
	if err := repo.Insert(ctx, a); err != nil {
		t.Fatalf("insert canonical for org A: %v", err)
	}
	b := baseCanonical(orgB, "fp-shared-across-orgs")
	if err := repo.Insert(ctx, b); err != nil {
		t.Fatalf("insert canonical with the same fingerprint for org B: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("organizations must not share canonical message rows")
	}

	got, err := repo.GetByFingerprint(ctx, orgA, "fp-shared-across-orgs")
	if err != nil {
		t.Fatalf("get by fingerprint for org A: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("org A lookup returned %s, want %s", got.ID, a.ID)
	}

	if _, err := repo.GetByFingerprint(ctx, orgB, "no-such-fingerprint-in-org-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound scoping org B's lookup away from org A's rows, got %v", err)
	}
}

// TestUpsertDiscoveredIsIdempotent proves mailbox_backfill jobs can be
// retried or replayed without creating duplicate occurrences for the same
// provider message in the same mailbox.
func TestUpsertDiscoveredIsIdempotent(t *testing.T) {
	pool := requireTestDB(t)
	ctx := context.Background()
	orgID := seedOrg(t, pool)
	mailboxID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO mailboxes (id, organization_id, purpose, provider, external_email, encrypted_credential, history_cursor)
		VALUES ($1, $2, 'journal', 'fake', 'support@example.com', '\x00', '')`, mailboxID, orgID); err != nil {
		t.Fatalf("seed mailbox: %v", err)
	}

	occs := NewOccurrenceRepository(pool)
	first, created, err := occs.UpsertDiscovered(ctx, orgID, mailboxID, "provider-msg-1", "thread-1", "inbound")
	if err != nil {
		t.Fatalf("first UpsertDiscovered: %v", err)
	}
	if !created {
		t.Fatal("first UpsertDiscovered should report created=true")
	}

	second, created, err := occs.UpsertDiscovered(ctx, orgID, mailboxID, "provider-msg-1", "thread-1", "inbound")
	if err != nil {
		t.Fatalf("second UpsertDiscovered: %v", err)
	}
	if created {
		t.Fatal("replayed UpsertDiscovered should report created=false")
	}
	if second.ID != first.ID {
		t.Fatalf("replayed UpsertDiscovered returned a different occurrence: %s vs %s", second.ID, first.ID)
	}
}
