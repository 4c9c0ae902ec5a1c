package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node deployments without Postgres; the mutex is the
// exclusion discipline that keeps two concurrent provisioning runs from
// both deciding a username is free.
type InMemory struct {
	mu      sync.RWMutex
	byUser  map[string]*Account
	byEmail map[string]string // lowercased email -> username key
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		byUser:  make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, acc *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidStatus(acc.Status) {
		return ErrInvalidStatus
	}
	userKey := strings.ToLower(acc.Username)
	emailKey := strings.ToLower(acc.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[userKey]; ok {
		return ErrConflict
	}
	if _, ok := s.byEmail[emailKey]; ok {
		return ErrConflict
	}
	cp := clone(acc)
	s.byUser[userKey] = cp
	s.byEmail[emailKey] = userKey
	return nil
}

func (s *InMemory) GetByUsername(ctx context.Context, username string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byUser[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(acc), nil
}

func (s *InMemory) GetByEmail(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	userKey, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.byUser[userKey]), nil
}

func (s *InMemory) Update(ctx context.Context, acc *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidStatus(acc.Status) {
		return ErrInvalidStatus
	}
	userKey := strings.ToLower(acc.Username)
	emailKey := strings.ToLower(acc.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byUser[userKey]
	if !ok {
		return ErrNotFound
	}
	// Email may change on update but must stay unique.
	oldEmailKey := strings.ToLower(current.Email)
	if emailKey != oldEmailKey {
		if _, taken := s.byEmail[emailKey]; taken {
			return ErrConflict
		}
		delete(s.byEmail, oldEmailKey)
		s.byEmail[emailKey] = userKey
	}
	s.byUser[userKey] = clone(acc)
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.byUser))
	for _, acc := range s.byUser {
		out = append(out, clone(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *InMemory) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userKey := strings.ToLower(username)

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byUser[userKey]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, strings.ToLower(acc.Email))
	delete(s.byUser, userKey)
	return nil
}

func clone(acc *Account) *Account {
	cp := *acc
	cp.Groups = cloneSet(acc.Groups)
	cp.Permissions = cloneSet(acc.Permissions)
	return &cp
}

// cloneSet copies a grant set, keeping empty distinct from absent so a
// cleared set round-trips as [] rather than null.
func cloneSet(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
