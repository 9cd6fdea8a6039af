package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/easeaico/roza/internal/types"
)

// MemoryStore keeps documents in process. It backs tests and the "memory" driver.
type MemoryStore struct {
	mu    sync.Mutex
	order []types.Key
	docs  map[types.Key]*types.UserDocument

	configs *memoryConfigStore
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[types.Key]*types.UserDocument),
		configs: &memoryConfigStore{
			bots:   make(map[string]types.BotConfig),
			groups: make(map[[2]string]types.GroupConfig),
		},
	}
}

// Configs returns the in-memory configuration store.
func (s *MemoryStore) Configs() ConfigStore {
	return s.configs
}

func (s *MemoryStore) FindOne(ctx context.Context, filter Filter) (*types.UserDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		if filter.Matches(key) {
			return cloneDocument(s.docs[key])
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Find(ctx context.Context, filter Filter, limit int) ([]types.UserDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.UserDocument
	for _, key := range s.order {
		if !filter.Matches(key) {
			continue
		}
		doc, err := cloneDocument(s.docs[key])
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, doc *types.UserDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.Key()
	if _, ok := s.docs[key]; ok {
		return ErrDuplicateKey
	}
	stored, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	s.docs[key] = stored
	s.order = append(s.order, key)
	return nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, key types.Key, update Update) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return UpdateResult{}, nil
	}
	changed, err := applyUpdate(doc, update)
	if err != nil {
		return UpdateResult{}, err
	}
	res := UpdateResult{Matched: 1}
	if changed {
		res.Modified = 1
	}
	return res, nil
}

func (s *MemoryStore) UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res UpdateResult
	for _, key := range s.order {
		if !filter.Matches(key) {
			continue
		}
		res.Matched++
		changed, err := applyUpdate(s.docs[key], update)
		if err != nil {
			return res, err
		}
		if changed {
			res.Modified++
		}
	}
	return res, nil
}

type memoryConfigStore struct {
	mu     sync.Mutex
	bots   map[string]types.BotConfig
	groups map[[2]string]types.GroupConfig
}

func (s *memoryConfigStore) GetBotConfig(ctx context.Context, botID string) (*types.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.bots[botID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (s *memoryConfigStore) GetGroupConfig(ctx context.Context, botID, groupID string) (*types.GroupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.groups[[2]string{botID, groupID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (s *memoryConfigStore) ListBotConfigs(ctx context.Context) ([]types.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.BotConfig, 0, len(s.bots))
	for _, cfg := range s.bots {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}

func (s *memoryConfigStore) SaveBotConfig(ctx context.Context, cfg *types.BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[cfg.BotID] = *cfg
	return nil
}

func (s *memoryConfigStore) SaveGroupConfig(ctx context.Context, cfg *types.GroupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[[2]string{cfg.BotID, cfg.GroupID}] = *cfg
	return nil
}
