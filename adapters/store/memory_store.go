package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/signet/core"
)

// MemoryStore is an in-memory implementation of the NonceStore and SessionStore
// interfaces. It is authoritative only inside one process, which makes it fit for
// tests and single-instance development servers.
type MemoryStore struct {
	mu        sync.Mutex
	nonces    map[string]core.Nonce
	sessions  map[string]core.Session
	byAddress map[string]map[string]struct{}
	blacklist map[string]core.BlacklistEntry
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nonces:    make(map[string]core.Nonce),
		sessions:  make(map[string]core.Session),
		byAddress: make(map[string]map[string]struct{}),
		blacklist: make(map[string]core.BlacklistEntry),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for session and blacklist expiry checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// InsertNonce records a new nonce and drops expired ones
func (s *MemoryStore) InsertNonce(ctx context.Context, nonce core.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeNoncesLocked(nonce.CreatedAt)
	s.nonces[nonce.Value] = nonce
	return nil
}

// ConsumeNonce performs the used=false -> true transition under the store lock
func (s *MemoryStore) ConsumeNonce(ctx context.Context, value, address string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, ok := s.nonces[value]
	if !ok || nonce.Used || nonce.Expired(now) {
		return false, nil
	}

	nonce.Used = true
	nonce.Address = address
	s.nonces[value] = nonce
	return true, nil
}

// PurgeExpired removes nonces, sessions and blacklist entries past their expiry.
func (s *MemoryStore) PurgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeNoncesLocked(now)
	for id, session := range s.sessions {
		if now.Before(session.ExpiresAt) {
			continue
		}
		delete(s.sessions, id)
		if ids := s.byAddress[session.Address]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byAddress, session.Address)
			}
		}
	}
	for key, entry := range s.blacklist {
		if !now.Before(entry.ExpiresAt) {
			delete(s.blacklist, key)
		}
	}
}

func (s *MemoryStore) purgeNoncesLocked(now time.Time) {
	for value, nonce := range s.nonces {
		if nonce.Expired(now) {
			delete(s.nonces, value)
		}
	}
}

// CreateSession stores a session and indexes it by address
func (s *MemoryStore) CreateSession(ctx context.Context, session core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	ids, ok := s.byAddress[session.Address]
	if !ok {
		ids = make(map[string]struct{})
		s.byAddress[session.Address] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

// GetSession returns a copy of the stored session
func (s *MemoryStore) GetSession(ctx context.Context, jti string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[jti]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return &session, nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[jti]
	if !ok {
		return core.ErrSessionNotFound
	}
	session.LastActiveAt = at
	s.sessions[jti] = session
	return nil
}

func (s *MemoryStore) RevokeSession(ctx context.Context, jti, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[jti]
	if !ok || !session.Active() {
		return nil
	}
	session.Status = core.SessionRevoked
	session.RevokedReason = reason
	session.RevokedAt = at
	s.sessions[jti] = session
	return nil
}

// ActiveSessions returns the address's active, unexpired sessions, newest first
func (s *MemoryStore) ActiveSessions(ctx context.Context, address string) ([]core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var active []core.Session
	for id := range s.byAddress[address] {
		if session := s.sessions[id]; session.Active() && now.Before(session.ExpiresAt) {
			active = append(active, session)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

func (s *MemoryStore) Blacklist(ctx context.Context, entry core.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[blacklistKey(entry.Address, entry.SessionID)] = entry
	return nil
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, address, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blacklist[blacklistKey(address, jti)]
	if !ok {
		return false, nil
	}
	return s.now().Before(entry.ExpiresAt), nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces = make(map[string]core.Nonce)
	s.sessions = make(map[string]core.Session)
	s.byAddress = make(map[string]map[string]struct{})
	s.blacklist = make(map[string]core.BlacklistEntry)
}

func blacklistKey(address, jti string) string {
	return address + ":" + jti
}
