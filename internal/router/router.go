// Package router fans presence transitions and reverse-list notifications
// out to interested peers, as a collaborator distinct from session
// bookkeeping.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/op/go-logging"

	"github.com/frostbite2000/msnp-server/internal/registry"
	"github.com/frostbite2000/msnp-server/internal/store"
)

// EventPublisher is an optional, fire-and-forget sink for presence
// transitions, entirely outside the wire protocol's own guarantees.
type EventPublisher interface {
	Publish(identity, state string, ts time.Time)
}

type Router struct {
	registry  *registry.Registry
	store     store.Store
	publisher EventPublisher
	log       *logging.Logger
}

func New(reg *registry.Registry, st store.Store, publisher EventPublisher, log *logging.Logger) *Router {
	return &Router{registry: reg, store: st, publisher: publisher, log: log}
}

// FanoutPresence delivers the presence line for a transition by identity
// to every interested, currently-online peer: P is interested in U iff
// U's BL excludes P and U's AL includes P (or U's AL is empty, treated
// as allow-all — see SPEC_FULL.md §9). The second field is the online/offline
// indicator (NLN, or FLN for a hidden-departure), distinct from state
// itself, matching the self-notification form handleUSRPhaseS sends.
func (r *Router) FanoutPresence(ctx context.Context, identity, state, displayName string, capabilities int, msnObj string) {
	contacts, err := r.store.ListContacts(ctx, identity)
	if err != nil {
		r.log.Error("fanout: listing contacts for", identity, ":", err)
		return
	}

	blocked := make(map[string]bool)
	allowed := make(map[string]bool)
	var watchers []string
	hasAllowList := false

	for _, c := range contacts {
		switch c.List {
		case store.ListBlock:
			blocked[c.Peer] = true
		case store.ListAllow:
			allowed[c.Peer] = true
			hasAllowList = true
		case store.ListReverse:
			watchers = append(watchers, c.Peer)
		}
	}

	indicator := "NLN"
	if state == "FLN" {
		indicator = "FLN"
	}
	line := fmt.Sprintf("%s %s %s %s %d", state, indicator, identity, displayName, capabilities)
	if msnObj != "" {
		line = line + " " + msnObj
	}

	for _, p := range watchers {
		if blocked[p] {
			continue
		}
		if hasAllowList && !allowed[p] {
			continue
		}
		entry, ok := r.registry.Lookup(p)
		if !ok {
			continue
		}
		if err := entry.Peer.Deliver(line); err != nil {
			r.log.Debug("fanout delivery to", p, "failed, evicting:", err)
			r.registry.RemoveIfCurrent(p, entry.Peer)
		}
	}

	if r.publisher != nil {
		r.publisher.Publish(identity, state, time.Now())
	}
}

// NotifyReverseList delivers a reverse-list ADD/REM notification to
// addee, iff addee currently has an online, non-HDN session.
func (r *Router) NotifyReverseList(addee, line string) {
	entry, ok := r.registry.Lookup(addee)
	if !ok {
		return
	}
	if entry.Presence == "HDN" {
		return
	}
	if err := entry.Peer.Deliver(line); err != nil {
		r.log.Debug("reverse-list notify to", addee, "failed, evicting:", err)
		r.registry.RemoveIfCurrent(addee, entry.Peer)
	}
}
