package schema

import (
	"context"
	"sync"

	"github.com/trogers1052/fund-quotes/internal/database"
)

// memStore keeps the schema version in memory
type memStore struct {
	mu      sync.Mutex
	version int
}

func (s *memStore) SchemaVersion(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == 0 {
		return 0, database.ErrNoSchemaVersion
	}
	return s.version, nil
}

func (s *memStore) SetSchemaVersion(_ context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	return nil
}
