package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/agora/internal/models"
)

// maxMemoryMessages caps the in-memory log; older messages fall off the front.
const maxMemoryMessages = 5000

type memorySession struct {
	name    string
	expires time.Time
}

// MemoryStore keeps identities, messages and sessions in process memory.
// It implements LiveStore directly and IdentityStore through Identities.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
	messages   []models.Message
	byID       map[string]int
	sessions   map[string]memorySession
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string]*models.Identity),
		byID:       make(map[string]int),
		sessions:   make(map[string]memorySession),
		now:        time.Now,
	}
}

// SetClock replaces the clock used for IDs, timestamps and session expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Close() error                   { return nil }
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Identities returns the store as an IdentityStore, whose Close has no
// error result.
func (s *MemoryStore) Identities() IdentityStore {
	return memoryIdentities{s}
}

type memoryIdentities struct{ *MemoryStore }

func (memoryIdentities) Close() {}

func nameKey(name string) string { return strings.ToLower(name) }

func (s *MemoryStore) UpsertIdentity(ctx context.Context, name string, kind models.SenderKind, at time.Time) (*models.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.identities[nameKey(name)]; ok {
		id.LastActiveAt = at
		cp := *id
		return &cp, false, nil
	}
	id := &models.Identity{Name: name, Kind: kind, JoinedAt: at, LastActiveAt: at}
	s.identities[nameKey(name)] = id
	cp := *id
	return &cp, true, nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, name string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[nameKey(name)]
	if !ok {
		return nil, nil
	}
	cp := *id
	return &cp, nil
}

func (s *MemoryStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) TouchIdentity(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[nameKey(name)]
	if !ok {
		return ErrNotFound
	}
	id.LastActiveAt = at
	id.MessageCount++
	return nil
}

func (s *MemoryStore) SetMute(ctx context.Context, name string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[nameKey(name)]
	if !ok {
		return ErrNotFound
	}
	id.MutedUntil = until
	return nil
}

func (s *MemoryStore) DeleteIdentity(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[nameKey(name)]; !ok {
		return false, nil
	}
	delete(s.identities, nameKey(name))
	return true, nil
}

func (s *MemoryStore) DeleteInactive(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for k, id := range s.identities {
		if id.LastActiveAt.Before(before) {
			removed = append(removed, id.Name)
			delete(s.identities, k)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// AddMessage appends msg to the log.
func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.ID == "" {
		msg.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = now.UnixMilli()
	}

	s.messages = append(s.messages, *msg)
	// Out-of-order inserts are rare; keep the log sorted either way.
	if n := len(s.messages); n > 1 && s.messages[n-2].Timestamp > msg.Timestamp {
		models.SortChronological(s.messages)
	}
	if len(s.messages) > maxMemoryMessages {
		s.messages = append([]models.Message(nil), s.messages[len(s.messages)-maxMemoryMessages:]...)
	}
	s.reindex()
	return nil
}

func (s *MemoryStore) reindex() {
	clear(s.byID)
	for i, m := range s.messages {
		s.byID[m.ID] = i
	}
}

func (s *MemoryStore) GetRecentMessages(ctx context.Context, limit int, after int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp > after
	})
	msgs := s.messages[start:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	m := s.messages[i]
	return &m, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.messages[i].Deleted = true
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, token, name string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = memorySession{name: name, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) LookupSession(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok || !s.now().Before(sess.expires) {
		return "", nil
	}
	return sess.name, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
