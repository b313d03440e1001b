package router

import (
	"context"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/store"
)

type fakeStore struct {
	contacts map[string][]store.Contact
}

func (s *fakeStore) GetUser(ctx context.Context, identity string) (*store.User, error) {
	return nil, nil
}
func (s *fakeStore) ListContacts(ctx context.Context, owner string) ([]store.Contact, error) {
	return s.contacts[owner], nil
}
func (s *fakeStore) AddContact(ctx context.Context, owner, peer, nickname string, list store.ListTag) error {
	return nil
}
func (s *fakeStore) RemoveContact(ctx context.Context, owner, peer string, list store.ListTag) error {
	return nil
}
func (s *fakeStore) AppendMessage(ctx context.Context, from, to string, body []byte, ts time.Time) error {
	return nil
}

type fakePeer struct {
	identity  string
	presence  string
	delivered []string
}

func (p *fakePeer) Identity() string    { return p.identity }
func (p *fakePeer) DisplayName() string { return p.identity }
func (p *fakePeer) Presence() string    { return p.presence }
func (p *fakePeer) Deliver(line string) error {
	p.delivered = append(p.delivered, line)
	return nil
}
func (p *fakePeer) Terminate(reason string) {}

func testLogger() *logging.Logger { return logging.MustGetLogger("router-test") }

func TestFanoutPresenceDeliversToWatcherOnAllowList(t *testing.T) {
	fs := &fakeStore{contacts: map[string][]store.Contact{
		"a@x": {
			{Owner: "a@x", Peer: "b@x", List: store.ListReverse},
			{Owner: "a@x", Peer: "b@x", List: store.ListAllow},
		},
	}}
	reg := registry.New(testLogger())
	b := &fakePeer{identity: "b@x", presence: "NLN"}
	reg.Admit("b@x", b)

	r := New(reg, fs, nil, testLogger())
	r.FanoutPresence(context.Background(), "a@x", "BSY", "A", 0, "")

	if len(b.delivered) != 1 {
		t.Fatalf("expected one delivered line, got %v", b.delivered)
	}
	want := "BSY NLN a@x A 0"
	if b.delivered[0] != want {
		t.Fatalf("got %q, want %q", b.delivered[0], want)
	}
}

func TestFanoutPresenceSkipsBlockedPeer(t *testing.T) {
	fs := &fakeStore{contacts: map[string][]store.Contact{
		"a@x": {
			{Owner: "a@x", Peer: "b@x", List: store.ListReverse},
			{Owner: "a@x", Peer: "b@x", List: store.ListBlock},
		},
	}}
	reg := registry.New(testLogger())
	b := &fakePeer{identity: "b@x", presence: "NLN"}
	reg.Admit("b@x", b)

	r := New(reg, fs, nil, testLogger())
	r.FanoutPresence(context.Background(), "a@x", "BSY", "A", 0, "")

	if len(b.delivered) != 0 {
		t.Fatalf("expected no delivery to blocked peer, got %v", b.delivered)
	}
}

func TestFanoutPresenceAllowsWhenAllowListEmpty(t *testing.T) {
	fs := &fakeStore{contacts: map[string][]store.Contact{
		"a@x": {
			{Owner: "a@x", Peer: "b@x", List: store.ListReverse},
		},
	}}
	reg := registry.New(testLogger())
	b := &fakePeer{identity: "b@x", presence: "NLN"}
	reg.Admit("b@x", b)

	r := New(reg, fs, nil, testLogger())
	r.FanoutPresence(context.Background(), "a@x", "BSY", "A", 0, "")

	if len(b.delivered) != 1 {
		t.Fatalf("expected allow-all default when AL empty, got %v", b.delivered)
	}
}

func TestFanoutPresenceHiddenDepartureUsesFLNIndicator(t *testing.T) {
	fs := &fakeStore{contacts: map[string][]store.Contact{
		"a@x": {
			{Owner: "a@x", Peer: "b@x", List: store.ListReverse},
		},
	}}
	reg := registry.New(testLogger())
	b := &fakePeer{identity: "b@x", presence: "NLN"}
	reg.Admit("b@x", b)

	r := New(reg, fs, nil, testLogger())
	r.FanoutPresence(context.Background(), "a@x", "FLN", "A", 0, "")

	want := "FLN FLN a@x A 0"
	if len(b.delivered) != 1 || b.delivered[0] != want {
		t.Fatalf("got %v, want [%q]", b.delivered, want)
	}
}

func TestNotifyReverseListSkipsHDN(t *testing.T) {
	reg := registry.New(testLogger())
	b := &fakePeer{identity: "b@x", presence: "HDN"}
	reg.Admit("b@x", b)

	r := New(reg, &fakeStore{}, nil, testLogger())
	r.NotifyReverseList("b@x", "ADD 0 RL 1 a@x Ayy")

	if len(b.delivered) != 0 {
		t.Fatalf("expected no delivery to HDN addee, got %v", b.delivered)
	}
}
