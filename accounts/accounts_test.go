package accounts

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})
	return store
}

func sampleProfile(label string) Profile {
	return Profile{
		Label:     label,
		CloudName: "demo",
		APIKey:    "key-abc",
		APISecret: "secret-xyz",
		Folder:    "inbox",
	}
}

func TestAddAndGet(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Add(sampleProfile("work"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	profile, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if profile.Label != "work" || profile.CloudName != "demo" || profile.Folder != "inbox" {
		t.Fatalf("profile does not round-trip: %+v", profile)
	}
	if profile.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
}

func TestAddRejectsIncomplete(t *testing.T) {
	store := newTestStore(t)

	cases := []Profile{
		{CloudName: "demo", APIKey: "k", APISecret: "s"},
		{Label: "x", APIKey: "k", APISecret: "s"},
		{Label: "x", CloudName: "demo", APISecret: "s"},
		{Label: "x", CloudName: "demo", APIKey: "k"},
	}
	for i, p := range cases {
		if _, err := store.Add(p); err == nil {
			t.Errorf("case %d: expected rejection of incomplete profile", i)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	var notFound *ErrProfileNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *ErrProfileNotFound, got %v", err)
	}
}

func TestListOrderedByLabel(t *testing.T) {
	store := newTestStore(t)

	for _, label := range []string{"zeta", "alpha", "mid"} {
		if _, err := store.Add(sampleProfile(label)); err != nil {
			t.Fatalf("Add %s failed: %v", label, err)
		}
	}

	profiles, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}
	if profiles[0].Label != "alpha" || profiles[1].Label != "mid" || profiles[2].Label != "zeta" {
		t.Fatalf("profiles not ordered by label: %+v", profiles)
	}
}

func TestSessionMapping(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Add(sampleProfile("work"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("no session before login", func(t *testing.T) {
		_, err := store.GetSession(id)
		var noSession *ErrNoActiveSession
		if !errors.As(err, &noSession) {
			t.Fatalf("expected *ErrNoActiveSession, got %v", err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		if err := store.SetSession(id, "session-123"); err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}
		got, err := store.GetSession(id)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got != "session-123" {
			t.Fatalf("expected session-123, got %s", got)
		}
	})

	t.Run("set for unknown profile fails", func(t *testing.T) {
		if err := store.SetSession("missing", "session-456"); err == nil {
			t.Fatal("expected SetSession to fail for unknown profile")
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := store.ClearSession(id); err != nil {
			t.Fatalf("ClearSession failed: %v", err)
		}
		if _, err := store.GetSession(id); err == nil {
			t.Fatal("expected no session after clear")
		}
	})
}

func TestDeleteClearsSession(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Add(sampleProfile("work"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.SetSession(id, "session-123"); err != nil {
		t.Fatalf("SetSession failed: %v", err)
	}

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(id); err == nil {
		t.Fatal("expected profile to be gone")
	}
	if _, err := store.GetSession(id); err == nil {
		t.Fatal("expected session mapping to be gone with the profile")
	}
}
