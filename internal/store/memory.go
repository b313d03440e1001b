package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"
	"github.com/youtube/vitess/go/ioutil2"
)

// contactKey identifies one (owner, peer, list) row.
type contactKey struct {
	owner, peer string
	list        ListTag
}

// historyEntry is one recorded MSG, capped per (from, to) pair.
type historyEntry struct {
	Body []byte
	Sent time.Time
}

const maxHistoryPerPair = 1000

// MemoryStore is the reference Store implementation: a mutex-guarded map
// fronted by an LRU read-through cache on GetUser, periodically snapshot
// to disk via vitess/go/ioutil2's atomic file writer.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*User
	contacts map[contactKey]Contact
	history  map[string][]historyEntry // key: from+"\x00"+to

	cache *lru.Cache

	snapshotPath string
	log          *logging.Logger

	stopSnapshot chan struct{}
	snapshotWG   sync.WaitGroup
}

// NewMemoryStore builds an empty store. cacheSize bounds the GetUser LRU
// cache (0 disables caching). snapshotPath, when non-empty, is loaded at
// startup and periodically rewritten by StartSnapshotting.
func NewMemoryStore(cacheSize int, snapshotPath string, log *logging.Logger) (*MemoryStore, error) {
	var cache *lru.Cache
	var err error
	if cacheSize > 0 {
		cache, err = lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("building user cache: %w", err)
		}
	}
	s := &MemoryStore{
		users:        make(map[string]*User),
		contacts:     make(map[contactKey]Contact),
		history:      make(map[string][]historyEntry),
		cache:        cache,
		snapshotPath: snapshotPath,
		log:          log,
		stopSnapshot: make(chan struct{}),
	}
	if snapshotPath != "" {
		if err := s.loadSnapshot(); err != nil {
			log.Warning("no usable snapshot at startup:", err)
		}
	}
	return s, nil
}

// SeedUser installs a user record directly, bypassing the store
// interface; used by tests and by a first-run bootstrap.
func (s *MemoryStore) SeedUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.Identity] = &cp
	if s.cache != nil {
		s.cache.Remove(u.Identity)
	}
}

func (s *MemoryStore) GetUser(ctx context.Context, identity string) (*User, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(identity); ok {
			return v.(*User), nil
		}
	}
	s.mu.Lock()
	u, ok := s.users[identity]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if s.cache != nil {
		s.cache.Add(identity, u)
	}
	return u, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context, owner string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Contact
	for k, c := range s.contacts {
		if k.owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddContact(ctx context.Context, owner, peer, nickname string, list ListTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := contactKey{owner, peer, list}
	if _, exists := s.contacts[k]; exists {
		return &ErrDuplicate{Owner: owner, Peer: peer, List: list}
	}
	s.contacts[k] = Contact{Owner: owner, Peer: peer, Nickname: nickname, List: list}
	return nil
}

func (s *MemoryStore) RemoveContact(ctx context.Context, owner, peer string, list ListTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, contactKey{owner, peer, list})
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, from, to string, body []byte, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := from + "\x00" + to
	entries := append(s.history[key], historyEntry{Body: body, Sent: ts})
	if len(entries) > maxHistoryPerPair {
		entries = entries[len(entries)-maxHistoryPerPair:]
	}
	s.history[key] = entries
	return nil
}

// --- snapshotting ---

type snapshotDoc struct {
	Users    []User    `json:"users"`
	Contacts []Contact `json:"contacts"`
	SavedAt  time.Time `json:"savedAt"`
}

func (s *MemoryStore) loadSnapshot() error {
	raw, err := readFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range doc.Users {
		cp := u
		s.users[u.Identity] = &cp
	}
	for _, c := range doc.Contacts {
		s.contacts[contactKey{c.Owner, c.Peer, c.List}] = c
	}
	return nil
}

func (s *MemoryStore) saveSnapshot() error {
	s.mu.Lock()
	doc := snapshotDoc{SavedAt: time.Now()}
	for _, u := range s.users {
		doc.Users = append(doc.Users, *u)
	}
	for _, c := range s.contacts {
		doc.Contacts = append(doc.Contacts, c)
	}
	s.mu.Unlock()

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return ioutil2.WriteFileAtomic(s.snapshotPath, raw, 0600)
}

// StartSnapshotting runs a background goroutine that rewrites the
// snapshot file every interval until Stop is called. No-op when no
// snapshot path was configured.
func (s *MemoryStore) StartSnapshotting(interval time.Duration) {
	if s.snapshotPath == "" {
		return
	}
	s.snapshotWG.Add(1)
	go func() {
		defer s.snapshotWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.saveSnapshot(); err != nil {
					s.log.Error("snapshot write failed:", err)
				}
			case <-s.stopSnapshot:
				return
			}
		}
	}()
}

// Stop halts background snapshotting and writes one final snapshot.
func (s *MemoryStore) Stop() {
	if s.snapshotPath == "" {
		return
	}
	close(s.stopSnapshot)
	s.snapshotWG.Wait()
	if err := s.saveSnapshot(); err != nil {
		s.log.Error("final snapshot write failed:", err)
	}
}
