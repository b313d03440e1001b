package store

import (
	"context"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func testLogger() *logging.Logger {
	return logging.MustGetLogger("store-test")
}

func TestMemoryStoreGetUser(t *testing.T) {
	s, err := NewMemoryStore(16, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.SeedUser(User{Identity: "a@x", Verifier: "deadbeef", DisplayName: "A"})

	ctx := context.Background()
	u, err := s.GetUser(ctx, "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.DisplayName != "A" {
		t.Fatalf("unexpected user: %+v", u)
	}

	missing, err := s.GetUser(ctx, "nobody@x")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown identity, got %+v", missing)
	}
}

func TestMemoryStoreAddContactDuplicate(t *testing.T) {
	s, err := NewMemoryStore(0, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.AddContact(ctx, "a@x", "b@x", "Bee", ListForward); err != nil {
		t.Fatal(err)
	}
	err = s.AddContact(ctx, "a@x", "b@x", "Bee", ListForward)
	if _, ok := err.(*ErrDuplicate); !ok {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreAddThenRemoveRestoresState(t *testing.T) {
	s, err := NewMemoryStore(0, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	before, err := s.ListContacts(ctx, "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != 0 {
		t.Fatalf("expected empty contact list, got %v", before)
	}
	if err := s.AddContact(ctx, "a@x", "b@x", "Bee", ListForward); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveContact(ctx, "a@x", "b@x", ListForward); err != nil {
		t.Fatal(err)
	}
	after, err := s.ListContacts(ctx, "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 0 {
		t.Fatalf("expected empty contact list after add+remove, got %v", after)
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/snapshot.json"

	s, err := NewMemoryStore(0, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.SeedUser(User{Identity: "a@x", Verifier: "deadbeef", DisplayName: "A", CreatedAt: time.Now()})
	if err := s.AddContact(context.Background(), "a@x", "b@x", "Bee", ListForward); err != nil {
		t.Fatal(err)
	}
	if err := s.saveSnapshot(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewMemoryStore(0, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	u, err := reloaded.GetUser(context.Background(), "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.DisplayName != "A" {
		t.Fatalf("snapshot did not restore user: %+v", u)
	}
	contacts, err := reloaded.ListContacts(context.Background(), "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].Peer != "b@x" {
		t.Fatalf("snapshot did not restore contacts: %+v", contacts)
	}
}
