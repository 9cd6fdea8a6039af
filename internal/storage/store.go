// Package storage persists user documents and bot/group configuration.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/easeaico/roza/internal/types"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when inserting a record whose identity already exists.
	ErrDuplicateKey = errors.New("duplicate identity key")
)

// Filter selects user documents. Empty fields do not constrain.
type Filter struct {
	BotID         string
	GroupID       string
	UserID        string
	ExcludeGroups []string
}

// KeyFilter matches exactly one identity.
func KeyFilter(key types.Key) Filter {
	return Filter{BotID: key.BotID, GroupID: key.GroupID, UserID: key.UserID}
}

// Matches reports whether key satisfies the filter.
func (f Filter) Matches(key types.Key) bool {
	if f.BotID != "" && f.BotID != key.BotID {
		return false
	}
	if f.GroupID != "" && f.GroupID != key.GroupID {
		return false
	}
	if f.UserID != "" && f.UserID != key.UserID {
		return false
	}
	for _, g := range f.ExcludeGroups {
		if g == key.GroupID {
			return false
		}
	}
	return true
}

// Update describes a partial document write. Paths are dotted field names.
type Update struct {
	Set  map[string]any
	Inc  map[string]int64
	Push map[string]any
}

// SetFields returns an update that only sets fields.
func SetFields(fields map[string]any) Update {
	return Update{Set: fields}
}

// UpdateResult reports how many documents matched and changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// DocumentStore is the user-document collection.
type DocumentStore interface {
	FindOne(ctx context.Context, filter Filter) (*types.UserDocument, error)
	Find(ctx context.Context, filter Filter, limit int) ([]types.UserDocument, error)
	Insert(ctx context.Context, doc *types.UserDocument) error
	UpdateOne(ctx context.Context, key types.Key, update Update) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error)
}

// ConfigStore holds bot and group configuration records.
type ConfigStore interface {
	GetBotConfig(ctx context.Context, botID string) (*types.BotConfig, error)
	GetGroupConfig(ctx context.Context, botID, groupID string) (*types.GroupConfig, error)
	ListBotConfigs(ctx context.Context) ([]types.BotConfig, error)
	SaveBotConfig(ctx context.Context, cfg *types.BotConfig) error
	SaveGroupConfig(ctx context.Context, cfg *types.GroupConfig) error
}

// Backend names accepted by NewStore.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Options selects and addresses a backend.
type Options struct {
	Driver   string
	URL      string
	Database string
}

// Store holds the opened backend and its repositories.
type Store struct {
	Documents DocumentStore
	Configs   ConfigStore

	migrate func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// NewStore opens the backend named by opts.Driver.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	switch opts.Driver {
	case DriverMongo, "":
		m, err := OpenMongo(ctx, opts.URL, opts.Database)
		if err != nil {
			return nil, err
		}
		return &Store{
			Documents: m.Documents(),
			Configs:   m.Configs(),
			migrate:   m.EnsureIndexes,
			closers:   []func(context.Context) error{m.Close},
		}, nil
	case DriverPostgres, DriverSQLite:
		s, err := OpenSQL(ctx, opts.Driver, opts.URL)
		if err != nil {
			return nil, err
		}
		return &Store{
			Documents: s.Documents(),
			Configs:   s.Configs(),
			migrate:   s.AutoMigrate,
			closers:   []func(context.Context) error{s.Close},
		}, nil
	case DriverMemory:
		m := NewMemoryStore()
		return &Store{Documents: m, Configs: m.Configs()}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
}

// Migrate creates indexes or tables for the backend.
func (s *Store) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(ctx)
}

// Close releases backend connections.
func (s *Store) Close(ctx context.Context) error {
	var err error
	for _, closeFn := range s.closers {
		err = multierr.Append(err, closeFn(ctx))
	}
	return err
}
