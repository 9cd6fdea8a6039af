package gate

import (
	"math/rand/v2"
	"unicode/utf8"

	"github.com/easeaico/roza/internal/types"
)

// DefaultOverinputMessage is used when no over-length reply is configured.
const DefaultOverinputMessage = "这么长谁看的过来啦……"

// InputResult is the outcome of CheckInputLength.
type InputResult struct {
	Allowed   bool
	Message   string
	Length    int
	MaxLength int
}

// CheckInputLength rejects queries of maxLength characters or more. Zero means unlimited.
func CheckInputLength(query string, maxLength int, replies types.MessagePool, rnd *rand.Rand) InputResult {
	length := utf8.RuneCountInString(query)
	res := InputResult{Allowed: true, Message: " ", Length: length, MaxLength: maxLength}
	if maxLength > 0 && length >= maxLength {
		res.Allowed = false
		res.Message = replies.Pick(rnd, DefaultOverinputMessage)
	}
	return res
}
