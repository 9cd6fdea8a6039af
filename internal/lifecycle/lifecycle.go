// Package lifecycle resolves user documents, creating them on first contact and
// seeding cross-group state from the per-user template.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

// ErrTemplateKey is returned when a caller addresses the template record as a group.
var ErrTemplateKey = errors.New("template group id is reserved")

// Lifecycle reads and creates user documents.
type Lifecycle struct {
	store   storage.DocumentStore
	logger  *zap.Logger
	nowFunc func() time.Time
}

// New returns a Lifecycle backed by store.
func New(store storage.DocumentStore, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: store, logger: logger, nowFunc: time.Now}
}

// WithClock overrides the time source.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.nowFunc = now
	return l
}

// Resolve returns the document for key, creating it when absent. A new document
// inherits favor, persona, blacklist and daily usage state from the template
// for every feature whose cross-group flag is set.
func (l *Lifecycle) Resolve(ctx context.Context, key types.Key, flags types.CrossGroupFlags) (*types.UserDocument, error) {
	if key.IsTemplate() {
		return nil, ErrTemplateKey
	}

	doc, err := l.store.FindOne(ctx, storage.KeyFilter(key))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read user document: %w", err)
	}

	now := l.nowFunc()
	template, err := l.template(ctx, key, now)
	if err != nil {
		return nil, err
	}

	doc = types.NewUserDocument(key, now)
	if template != nil {
		inherit(doc, template, flags)
	}

	if err := l.store.Insert(ctx, doc); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to create user document: %w", err)
		}
		// Another request created it first; the stored copy wins.
		existing, ferr := l.store.FindOne(ctx, storage.KeyFilter(key))
		if ferr != nil {
			return nil, fmt.Errorf("failed to read user document: %w", ferr)
		}
		return existing, nil
	}

	l.logger.Info("user document created",
		zap.String("bot_id", key.BotID),
		zap.String("group_id", key.GroupID),
		zap.String("user_id", key.UserID),
		zap.Bool("from_template", template != nil),
	)
	return doc, nil
}

// template loads the template for key or builds one from a sibling group
// document. It returns nil when the user has no other documents.
func (l *Lifecycle) template(ctx context.Context, key types.Key, now time.Time) (*types.UserDocument, error) {
	tplKey := key.Template().StorageKey()
	tpl, err := l.store.FindOne(ctx, storage.KeyFilter(tplKey))
	if err == nil {
		return tpl, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read template document: %w", err)
	}

	siblings, err := l.store.Find(ctx, storage.Filter{
		BotID:         key.BotID,
		UserID:        key.UserID,
		ExcludeGroups: []string{tplKey.GroupID, key.GroupID},
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to query sibling documents: %w", err)
	}
	if len(siblings) == 0 {
		return nil, nil
	}

	tpl = snapshot(tplKey, &siblings[0], now)
	if err := l.store.Insert(ctx, tpl); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to create template document: %w", err)
		}
		return l.store.FindOne(ctx, storage.KeyFilter(tplKey))
	}
	l.logger.Info("template document created",
		zap.String("bot_id", key.BotID),
		zap.String("user_id", key.UserID),
		zap.String("source_group_id", siblings[0].GroupID),
	)
	return tpl, nil
}

// snapshot copies the cross-group fields of src into a new template record.
// Lifetime usage and history stay per group.
func snapshot(key types.Key, src *types.UserDocument, now time.Time) *types.UserDocument {
	tpl := types.NewUserDocument(key, now)
	tpl.FavorValue = src.FavorValue
	tpl.LastFavorChange = src.LastFavorChange
	tpl.PersonaAttributes = src.PersonaAttributes
	tpl.BlockStats = src.BlockStats
	tpl.DailyUsageCount = src.DailyUsageCount
	if src.LongTermMemory != nil {
		tpl.LongTermMemory = append([]types.MemoryEntry(nil), src.LongTermMemory...)
	}
	return tpl
}

func inherit(doc, tpl *types.UserDocument, flags types.CrossGroupFlags) {
	if flags.Favor {
		doc.FavorValue = tpl.FavorValue
		doc.LastFavorChange = tpl.LastFavorChange
	}
	if flags.Persona {
		doc.PersonaAttributes = tpl.PersonaAttributes
	}
	if flags.Blacklist {
		doc.BlockStats = tpl.BlockStats
	}
	if flags.UsageLimit {
		doc.DailyUsageCount = tpl.DailyUsageCount
	}
}
