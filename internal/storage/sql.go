package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/roza/internal/types"
)

// userDocumentModel maps to the user_documents table. The whole document lives
// in a JSON column; identity columns carry the unique index.
type userDocumentModel struct {
	ID        uint           `gorm:"primaryKey"`
	BotID     string         `gorm:"size:64;not null;uniqueIndex:idx_user_documents_identity,priority:1"`
	GroupID   string         `gorm:"size:64;not null;uniqueIndex:idx_user_documents_identity,priority:2"`
	UserID    string         `gorm:"size:64;not null;uniqueIndex:idx_user_documents_identity,priority:3"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userDocumentModel) TableName() string {
	return "user_documents"
}

type botConfigModel struct {
	ID        uint           `gorm:"primaryKey"`
	BotID     string         `gorm:"size:64;not null;uniqueIndex"`
	Config    datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (botConfigModel) TableName() string {
	return "bot_configs"
}

type groupConfigModel struct {
	ID        uint           `gorm:"primaryKey"`
	BotID     string         `gorm:"size:64;not null;uniqueIndex:idx_group_configs_identity,priority:1"`
	GroupID   string         `gorm:"size:64;not null;uniqueIndex:idx_group_configs_identity,priority:2"`
	Config    datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (groupConfigModel) TableName() string {
	return "group_configs"
}

// SQLStore keeps documents in PostgreSQL or SQLite through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL opens and pings a postgres DSN or a sqlite file path.
func OpenSQL(ctx context.Context, driver, url string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(url)
	case DriverSQLite:
		dialector = sqlite.Open(url)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// AutoMigrate creates the tables and identity indexes.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userDocumentModel{}, &botConfigModel{}, &groupConfigModel{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

// Exec runs a raw SQL script, such as a hand-written migration.
func (s *SQLStore) Exec(ctx context.Context, script string) error {
	if err := s.db.WithContext(ctx).Exec(script).Error; err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Documents returns the user document repository.
func (s *SQLStore) Documents() DocumentStore {
	return &sqlDocumentStore{db: s.db}
}

// Configs returns the config repository.
func (s *SQLStore) Configs() ConfigStore {
	return &sqlConfigStore{db: s.db}
}

// Close closes the underlying pool.
func (s *SQLStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}

type sqlDocumentStore struct {
	db *gorm.DB
}

func scopeFilter(db *gorm.DB, f Filter) *gorm.DB {
	if f.BotID != "" {
		db = db.Where("bot_id = ?", f.BotID)
	}
	if f.GroupID != "" {
		db = db.Where("group_id = ?", f.GroupID)
	}
	if f.UserID != "" {
		db = db.Where("user_id = ?", f.UserID)
	}
	if len(f.ExcludeGroups) > 0 {
		db = db.Where("group_id NOT IN ?", f.ExcludeGroups)
	}
	return db
}

func documentFromModel(model userDocumentModel) (*types.UserDocument, error) {
	var doc types.UserDocument
	if err := json.Unmarshal(model.Document, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %d: %w", model.ID, err)
	}
	doc.BotID, doc.GroupID, doc.UserID = model.BotID, model.GroupID, model.UserID
	return &doc, nil
}

func (r *sqlDocumentStore) FindOne(ctx context.Context, filter Filter) (*types.UserDocument, error) {
	var model userDocumentModel
	err := scopeFilter(r.db.WithContext(ctx), filter).Order("id ASC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user document: %w", err)
	}
	return documentFromModel(model)
}

func (r *sqlDocumentStore) Find(ctx context.Context, filter Filter, limit int) ([]types.UserDocument, error) {
	query := scopeFilter(r.db.WithContext(ctx), filter).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []userDocumentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query user documents: %w", err)
	}
	docs := make([]types.UserDocument, 0, len(models))
	for _, model := range models {
		doc, err := documentFromModel(model)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (r *sqlDocumentStore) Insert(ctx context.Context, doc *types.UserDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	record := userDocumentModel{
		BotID:    doc.BotID,
		GroupID:  doc.GroupID,
		UserID:   doc.UserID,
		Document: datatypes.JSON(data),
	}
	err = r.db.WithContext(ctx).Create(&record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert user document: %w", err)
	}
	return nil
}

func (r *sqlDocumentStore) UpdateOne(ctx context.Context, key types.Key, update Update) (UpdateResult, error) {
	return r.update(ctx, KeyFilter(key), update, 1)
}

func (r *sqlDocumentStore) UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	return r.update(ctx, filter, update, 0)
}

func (r *sqlDocumentStore) update(ctx context.Context, filter Filter, update Update, limit int) (UpdateResult, error) {
	var res UpdateResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := scopeFilter(tx, filter).Order("id ASC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		var models []userDocumentModel
		if err := query.Find(&models).Error; err != nil {
			return fmt.Errorf("failed to query user documents: %w", err)
		}
		for _, model := range models {
			res.Matched++
			doc, err := documentFromModel(model)
			if err != nil {
				return err
			}
			changed, err := applyUpdate(doc, update)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode document: %w", err)
			}
			if err := tx.Model(&userDocumentModel{}).Where("id = ?", model.ID).
				Update("document", datatypes.JSON(data)).Error; err != nil {
				return fmt.Errorf("failed to update user document: %w", err)
			}
			res.Modified++
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

type sqlConfigStore struct {
	db *gorm.DB
}

func (r *sqlConfigStore) GetBotConfig(ctx context.Context, botID string) (*types.BotConfig, error) {
	var model botConfigModel
	err := r.db.WithContext(ctx).Where("bot_id = ?", botID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}
	var cfg types.BotConfig
	if err := json.Unmarshal(model.Config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode bot config: %w", err)
	}
	return &cfg, nil
}

func (r *sqlConfigStore) GetGroupConfig(ctx context.Context, botID, groupID string) (*types.GroupConfig, error) {
	var model groupConfigModel
	err := r.db.WithContext(ctx).Where("bot_id = ? AND group_id = ?", botID, groupID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group config: %w", err)
	}
	var cfg types.GroupConfig
	if err := json.Unmarshal(model.Config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode group config: %w", err)
	}
	return &cfg, nil
}

func (r *sqlConfigStore) ListBotConfigs(ctx context.Context) ([]types.BotConfig, error) {
	var models []botConfigModel
	if err := r.db.WithContext(ctx).Order("bot_id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list bot configs: %w", err)
	}
	out := make([]types.BotConfig, 0, len(models))
	for _, model := range models {
		var cfg types.BotConfig
		if err := json.Unmarshal(model.Config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode bot config %s: %w", model.BotID, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (r *sqlConfigStore) SaveBotConfig(ctx context.Context, cfg *types.BotConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode bot config: %w", err)
	}
	record := botConfigModel{BotID: cfg.BotID, Config: datatypes.JSON(data)}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}
	return nil
}

func (r *sqlConfigStore) SaveGroupConfig(ctx context.Context, cfg *types.GroupConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode group config: %w", err)
	}
	record := groupConfigModel{BotID: cfg.BotID, GroupID: cfg.GroupID, Config: datatypes.JSON(data)}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}, {Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save group config: %w", err)
	}
	return nil
}
