package workflow

import (
	"time"

	"github.com/easeaico/roza/internal/augment"
	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/gate"
	"github.com/easeaico/roza/internal/types"
)

// Request is everything a run needs besides the store.
type Request struct {
	Key        types.Key
	UserQuery  string
	MainPrompt string
	IsAdmin    bool
	CrossGroup types.CrossGroupFlags
	Now        time.Time
	Today      gate.Date

	Blacklist       gate.BlacklistPolicy
	MaxInputSize    int
	OverinputOutput types.MessagePool
	Usage           gate.UsagePolicy

	FavorEnabled     bool
	FavorPrompts     []string
	FavorSplitPoints []int

	PersonaEnabled bool

	ContextEnabled  bool
	ContextPoolSize int

	MemoryEnabled         bool
	MemoryRetrievalNumber int
}

// RequestFromSettings builds a Request from resolved settings. now is the
// request time and today the caller's calendar day.
func RequestFromSettings(s *config.Settings, query, mainPrompt string, now time.Time, today gate.Date) Request {
	return Request{
		Key:        s.Key(),
		UserQuery:  query,
		MainPrompt: mainPrompt,
		IsAdmin:    s.IsUserAdmin,
		CrossGroup: s.CrossGroup(),
		Now:        now,
		Today:      today,
		Blacklist: gate.BlacklistPolicy{
			Enabled:        s.BlacklistSystem,
			RestrictAdmins: s.BlacklistRestrictAdminUsers,
			WarnLifespan:   seconds(s.WarnLifespan.Int(0)),
			BlockLifespan:  seconds(s.BlockLifespan.Int(0)),
		},
		MaxInputSize:    s.MaxInputSize.Int(0),
		OverinputOutput: s.OverinputOutput,
		Usage: gate.UsagePolicy{
			Enabled:        s.UsageLimitSystem,
			RestrictAdmins: s.UsageRestrictAdminUsers,
			Limit:          s.UsageLimit.Int(0),
			Replies:        s.OverusageOutput,
		},
		FavorEnabled:          s.FavorSystem,
		FavorPrompts:          s.FavorPrompts,
		FavorSplitPoints:      s.FavorSplitPoints,
		PersonaEnabled:        s.PersonaSystem,
		ContextEnabled:        s.ContextSystem,
		ContextPoolSize:       s.ContextPoolSize.Int(0),
		MemoryEnabled:         s.MemorySystem,
		MemoryRetrievalNumber: s.MemoryRetrievalNumber.Int(augment.DefaultRetrievalNumber),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
