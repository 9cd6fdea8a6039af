package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

// Pool defaults written by MigratePools when a bot has no usable reply.
const (
	DefaultOverusageReply = "魔法的时间结束啦，请明天再来吧"
	DefaultErrorReply     = "刚才走神了，可以再说一遍吗？"
	DefaultOverinputReply = "这么长谁看的过来啦……"
)

type botUnit struct {
	types.BotConfig `yaml:",inline"`
	SearchKey       string `yaml:"search_key"`
}

type groupUnit struct {
	types.GroupConfig `yaml:",inline"`
	SearchKey         string `yaml:"search_key"`
}

// splitSearchKey handles the legacy "bot:group" unit key.
func splitSearchKey(key string) (string, string) {
	bot, group, _ := strings.Cut(key, ":")
	return strings.TrimSpace(bot), strings.TrimSpace(group)
}

// decodeUnits accepts a YAML sequence of units or a single unit mapping.
func decodeUnits[T any](r io.Reader) ([]T, error) {
	dec := yaml.NewDecoder(r)
	var out []T
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}
		root := node.Content[0]
		switch root.Kind {
		case yaml.SequenceNode:
			var units []T
			if err := root.Decode(&units); err != nil {
				return nil, fmt.Errorf("failed to decode units: %w", err)
			}
			out = append(out, units...)
		case yaml.MappingNode:
			var unit T
			if err := root.Decode(&unit); err != nil {
				return nil, fmt.Errorf("failed to decode unit: %w", err)
			}
			out = append(out, unit)
		default:
			return nil, fmt.Errorf("unexpected yaml node at line %d", root.Line)
		}
	}
}

// ParseBotConfigs reads bot units. Units without a bot id are dropped.
func ParseBotConfigs(r io.Reader) ([]types.BotConfig, error) {
	units, err := decodeUnits[botUnit](r)
	if err != nil {
		return nil, err
	}
	out := make([]types.BotConfig, 0, len(units))
	for _, u := range units {
		cfg := u.BotConfig
		if cfg.BotID == "" && u.SearchKey != "" {
			cfg.BotID, _ = splitSearchKey(u.SearchKey)
		}
		cfg.BotID = strings.TrimSpace(cfg.BotID)
		if cfg.BotID == "" {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ParseGroupConfigs reads group units. Units missing a bot or group id are dropped.
func ParseGroupConfigs(r io.Reader) ([]types.GroupConfig, error) {
	units, err := decodeUnits[groupUnit](r)
	if err != nil {
		return nil, err
	}
	out := make([]types.GroupConfig, 0, len(units))
	for _, u := range units {
		cfg := u.GroupConfig
		if cfg.BotID == "" && u.SearchKey != "" {
			cfg.BotID, cfg.GroupID = splitSearchKey(u.SearchKey)
		}
		cfg.BotID = strings.TrimSpace(cfg.BotID)
		cfg.GroupID = strings.TrimSpace(cfg.GroupID)
		if cfg.BotID == "" || cfg.GroupID == "" {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// YAMLFiles lists *.yml and *.yaml files under path, or path itself if it is a file.
func YAMLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yml", ".yaml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// ImportReport counts what Import wrote.
type ImportReport struct {
	Bots   int
	Groups int
}

// Importer upserts YAML configuration into the config store.
type Importer struct {
	configs storage.ConfigStore
	logger  *zap.Logger
}

// NewImporter returns an Importer writing to configs.
func NewImporter(configs storage.ConfigStore, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{configs: configs, logger: logger}
}

// ImportBots upserts every bot unit found in the given files.
func (im *Importer) ImportBots(ctx context.Context, files []string) (int, error) {
	count := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return count, fmt.Errorf("failed to read %s: %w", file, err)
		}
		bots, err := ParseBotConfigs(bytes.NewReader(data))
		if err != nil {
			return count, fmt.Errorf("%s: %w", file, err)
		}
		for i := range bots {
			if err := im.configs.SaveBotConfig(ctx, &bots[i]); err != nil {
				return count, fmt.Errorf("failed to save bot %s: %w", bots[i].BotID, err)
			}
			count++
		}
		im.logger.Info("imported bot configs", zap.String("file", file), zap.Int("units", len(bots)))
	}
	return count, nil
}

// ImportGroups upserts every group unit found in the given files.
func (im *Importer) ImportGroups(ctx context.Context, files []string) (int, error) {
	count := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return count, fmt.Errorf("failed to read %s: %w", file, err)
		}
		groups, err := ParseGroupConfigs(bytes.NewReader(data))
		if err != nil {
			return count, fmt.Errorf("%s: %w", file, err)
		}
		for i := range groups {
			if err := im.configs.SaveGroupConfig(ctx, &groups[i]); err != nil {
				return count, fmt.Errorf("failed to save group %s:%s: %w", groups[i].BotID, groups[i].GroupID, err)
			}
			count++
		}
		im.logger.Info("imported group configs", zap.String("file", file), zap.Int("units", len(groups)))
	}
	return count, nil
}

// Import reads bot files from botPath and group files from groupPath. Either may be empty.
func (im *Importer) Import(ctx context.Context, botPath, groupPath string) (ImportReport, error) {
	var report ImportReport
	if botPath != "" {
		files, err := YAMLFiles(botPath)
		if err != nil {
			return report, err
		}
		if report.Bots, err = im.ImportBots(ctx, files); err != nil {
			return report, err
		}
	}
	if groupPath != "" {
		files, err := YAMLFiles(groupPath)
		if err != nil {
			return report, err
		}
		if report.Groups, err = im.ImportGroups(ctx, files); err != nil {
			return report, err
		}
	}
	return report, nil
}

// normalizePool trims entries and drops blanks, falling back to def.
func normalizePool(pool types.MessagePool, def string) (types.MessagePool, bool) {
	cleaned := make(types.MessagePool, 0, len(pool))
	for _, msg := range pool {
		if msg = strings.TrimSpace(msg); msg != "" {
			cleaned = append(cleaned, msg)
		}
	}
	if len(cleaned) == 0 {
		cleaned = types.MessagePool{def}
	}
	if len(cleaned) != len(pool) {
		return cleaned, true
	}
	for i := range cleaned {
		if cleaned[i] != pool[i] {
			return cleaned, true
		}
	}
	return cleaned, false
}

// NormalizePools rewrites the reply pools of bot in place and reports whether any changed.
func NormalizePools(bot *types.BotConfig) bool {
	var a, b, c bool
	bot.OverusageOutput, a = normalizePool(bot.OverusageOutput, DefaultOverusageReply)
	bot.ErrorOutput, b = normalizePool(bot.ErrorOutput, DefaultErrorReply)
	bot.OverinputOutput, c = normalizePool(bot.OverinputOutput, DefaultOverinputReply)
	return a || b || c
}

// MigratePools normalizes every stored bot's reply pools and saves them back as lists.
// It returns the number of bots whose pools changed.
func (im *Importer) MigratePools(ctx context.Context) (int, error) {
	bots, err := im.configs.ListBotConfigs(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range bots {
		if NormalizePools(&bots[i]) {
			changed++
			im.logger.Info("normalized reply pools", zap.String("bot_id", bots[i].BotID))
		}
		if err := im.configs.SaveBotConfig(ctx, &bots[i]); err != nil {
			return changed, fmt.Errorf("failed to save bot %s: %w", bots[i].BotID, err)
		}
	}
	return changed, nil
}
