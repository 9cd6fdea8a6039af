package augment

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

// DefaultRetrievalNumber is the top-k used when none is configured.
const DefaultRetrievalNumber = 5

var wordRun = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Tokenize case-folds text and splits it into word runs. A run of CJK
// characters stays one token.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return wordRun.FindAllString(cases.Fold().String(text), -1)
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	return counts
}

// Cosine is the bag-of-words cosine similarity of a and b.
func Cosine(a, b string) float64 {
	va, vb := termCounts(a), termCounts(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, n := range va {
		na += float64(n * n)
		dot += float64(n * vb[tok])
	}
	for _, n := range vb {
		nb += float64(n * n)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// HitMemory is a retrieved memory as reported to callers.
type HitMemory struct {
	UserInput         string `json:"user_input,omitempty"`
	MemoryDescription string `json:"memory_description"`
	HitCount          int    `json:"hit_count"`
}

// MemoryResult is the outcome of the memory stage.
type MemoryResult struct {
	Hits []HitMemory
	Main string
}

// Memory retrieves long-term memories and records their hits.
type Memory struct {
	store  storage.DocumentStore
	logger *zap.Logger
}

// NewMemory returns a Memory backed by store.
func NewMemory(store storage.DocumentStore, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{store: store, logger: logger}
}

// Retrieve ranks doc's memories against query, keeps the top k with positive
// similarity, bumps their hit counts and appends their descriptions to main.
func (m *Memory) Retrieve(ctx context.Context, doc *types.UserDocument, query string, k int, main string, now time.Time) (MemoryResult, error) {
	res := MemoryResult{Hits: []HitMemory{}, Main: main}
	if len(doc.LongTermMemory) == 0 || query == "" {
		return res, nil
	}

	type scored struct {
		idx int
		sim float64
	}
	var ranked []scored
	for i, entry := range doc.LongTermMemory {
		if entry.MatchText() == "" {
			continue
		}
		ranked = append(ranked, scored{idx: i, sim: Cosine(query, entry.MatchText())})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if k < len(ranked) {
		ranked = ranked[:max(k, 0)]
	}

	entries := append([]types.MemoryEntry(nil), doc.LongTermMemory...)
	var descriptions []string
	for _, r := range ranked {
		if r.sim <= 0 {
			continue
		}
		entry := &entries[r.idx]
		entry.HitCount++
		hit := HitMemory{MemoryDescription: entry.MemoryDescription, HitCount: entry.HitCount}
		if !entry.Legacy {
			hit.UserInput = entry.UserInput
		}
		res.Hits = append(res.Hits, hit)
		if entry.MemoryDescription != "" {
			descriptions = append(descriptions, entry.MemoryDescription)
		}
	}
	if len(res.Hits) == 0 {
		return res, nil
	}

	_, err := m.store.UpdateOne(ctx, doc.Key(), storage.SetFields(map[string]any{
		"long_term_memory": entries,
		"updated_at":       now,
	}))
	if err != nil {
		return MemoryResult{}, fmt.Errorf("failed to update memory hits: %w", err)
	}
	doc.LongTermMemory = entries
	doc.UpdatedAt = now

	if len(descriptions) > 0 {
		res.Main = fmt.Sprintf("%s\n\n相关记忆：\n%s\n", main, strings.Join(descriptions, "\n"))
	}
	return res, nil
}
