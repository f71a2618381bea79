package challenge

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("challenge not found")
	ErrExpired  = errors.New("challenge expired")
)

type Kind string

const (
	KindImage Kind = "image"
	KindMath  Kind = "math"
)

func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindImage, KindMath:
		return Kind(value), true
	default:
		return "", false
	}
}

type Pending struct {
	GuildID   string
	UserID    string
	Kind      Kind
	Secret    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type key struct {
	guildID string
	userID  string
	kind    Kind
}

// Store holds at most one pending challenge per (guild, user, kind).
// Entries are only removed by Consume or by being replaced; expiry is
// checked when an entry is read.
type Store struct {
	mu      sync.Mutex
	clock   Clock
	entries map[key]Pending
}

func NewStore() *Store {
	return &Store{clock: realClock{}, entries: make(map[key]Pending)}
}

func (s *Store) WithClock(clock Clock) *Store {
	s.clock = clock
	return s
}

// Issue records a challenge, replacing any earlier one for the same key.
func (s *Store) Issue(guildID, userID string, kind Kind, secret string, ttl time.Duration) Pending {
	now := s.clock.Now()
	entry := Pending{
		GuildID:   guildID,
		UserID:    userID,
		Kind:      kind,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.entries[key{guildID, userID, kind}] = entry
	s.mu.Unlock()
	return entry
}

// Consume removes and returns the pending challenge. Of two concurrent
// callers for the same key at most one gets the entry.
func (s *Store) Consume(guildID, userID string, kind Kind) (Pending, error) {
	k := key{guildID, userID, kind}

	s.mu.Lock()
	entry, ok := s.entries[k]
	if ok {
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if !ok {
		return Pending{}, ErrNotFound
	}
	return entry, nil
}

// Redeem consumes the challenge and reports ErrExpired when it was past its deadline.
func (s *Store) Redeem(guildID, userID string, kind Kind) (Pending, error) {
	entry, err := s.Consume(guildID, userID, kind)
	if err != nil {
		return Pending{}, err
	}
	if s.IsExpired(entry, s.clock.Now()) {
		return entry, ErrExpired
	}
	return entry, nil
}

func (s *Store) IsExpired(entry Pending, now time.Time) bool {
	return now.After(entry.ExpiresAt)
}

func (s *Store) Peek(guildID, userID string, kind Kind) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key{guildID, userID, kind}]
	return entry, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
