package drafts

import (
	"context"
	"sync"
	"time"

	"github.com/partnerhub/partnerhub/internal/db/models"
)

// MemoryStore is an in-process Store for development and tests. TTLs are
// honored lazily: expired drafts are dropped on read.
type MemoryStore struct {
	mu      sync.RWMutex
	drafts  map[string]*models.Draft
	expires map[string]time.Time
}

// NewMemoryStore creates an empty in-memory draft store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:  make(map[string]*models.Draft),
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Draft, error) {
	s.mu.RLock()
	draft, ok := s.drafts[id]
	deadline, hasTTL := s.expires[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if hasTTL && time.Now().After(deadline) {
		s.mu.Lock()
		delete(s.drafts, id)
		delete(s.expires, id)
		s.mu.Unlock()
		return nil, nil
	}

	return cloneDraft(draft), nil
}

func (s *MemoryStore) Put(_ context.Context, draft *models.Draft, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[draft.ID] = cloneDraft(draft)
	if ttl > 0 {
		s.expires[draft.ID] = time.Now().Add(ttl)
	} else {
		delete(s.expires, draft.ID)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	delete(s.expires, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*models.Draft, 0, len(s.drafts))
	for id, draft := range s.drafts {
		if deadline, ok := s.expires[id]; ok && now.After(deadline) {
			continue
		}
		out = append(out, cloneDraft(draft))
	}
	return out, nil
}

// cloneDraft deep-copies a draft's form data so a stored draft and the
// caller's copy never share inner maps.
func cloneDraft(d *models.Draft) *models.Draft {
	copied := *d
	if d.FormData != nil {
		formData := make(map[string]any, len(d.FormData))
		for name, payload := range d.FormData {
			if section, ok := payload.(map[string]any); ok {
				inner := make(map[string]any, len(section))
				for k, v := range section {
					inner[k] = v
				}
				formData[name] = inner
				continue
			}
			formData[name] = payload
		}
		copied.FormData = formData
	}
	return &copied
}
