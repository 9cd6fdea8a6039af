// Package preprocess classifies an incoming message and derives the values
// later stages key on: quoted text, local time parts and the model to use.
package preprocess

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/easeaico/roza/internal/command"
)

// Message kinds.
const (
	KindCommand = "command"
	KindChat    = "chat"
)

// VisionModel replaces the configured model when images are attached.
const VisionModel = "vision_llm"

const (
	referencedMarker = "Referenced message: "
	userMarker       = "User's message: "
)

// File is an attachment as delivered by the chat platform.
type File struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Input is a raw inbound message.
type Input struct {
	BotID                 string `json:"bot_id"`
	GroupID               string `json:"group_id"`
	CommonsenseCrossGroup bool   `json:"commonsense_cross_group"`
	UserQuery             string `json:"user_query"`
	Files                 []File `json:"sys_files"`
	Model                 string `json:"llm_model"`
}

// Output is the classified message.
type Output struct {
	Command              string `json:"command"`
	Timestamp            int64  `json:"timestamp"`
	Year                 string `json:"year"`
	Month                string `json:"month"`
	Day                  string `json:"day"`
	HourMinute           string `json:"hour_minute"`
	Weekday              string `json:"weekday"`
	FormattedTime        string `json:"formatted_time"`
	CommonsenseSearchKey string `json:"commonsense_search_key"`
	UserQuery            string `json:"user_query"`
	QuotedMessage        string `json:"quoted_message"`
	Model                string `json:"llm_model"`
}

// Preprocessor classifies messages against a command prefix.
type Preprocessor struct {
	commandPattern *regexp.Regexp
	loc            *time.Location
}

// New returns a Preprocessor. A command is prefix at the start of the text or
// after whitespace. Time parts are reported in loc.
func New(prefix string, loc *time.Location) *Preprocessor {
	if prefix == "" {
		prefix = command.DefaultPrefix
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Preprocessor{
		commandPattern: regexp.MustCompile(`(?:^|\s)` + regexp.QuoteMeta(prefix)),
		loc:            loc,
	}
}

// Process classifies in as of now.
func (p *Preprocessor) Process(in Input, now time.Time) Output {
	query, quoted := SplitQuote(in.UserQuery)
	out := Output{
		Command:              KindChat,
		CommonsenseSearchKey: CommonsenseKey(in.BotID, in.GroupID, in.CommonsenseCrossGroup),
		UserQuery:            query,
		QuotedMessage:        quoted,
		Model:                in.Model,
	}
	if p.commandPattern.MatchString(query) {
		out.Command = KindCommand
	}
	for _, f := range in.Files {
		if f.Type == "image" {
			out.Model = VisionModel
			break
		}
	}

	local := now.In(p.loc)
	out.Timestamp = local.Unix()
	out.Year = fmt.Sprintf("%04d", local.Year())
	out.Month = fmt.Sprintf("%02d", int(local.Month()))
	out.Day = fmt.Sprintf("%02d", local.Day())
	out.HourMinute = local.Format("1504")
	// Monday is 1 and Sunday 7.
	out.Weekday = strconv.Itoa((int(local.Weekday())+6)%7 + 1)
	out.FormattedTime = local.Format(time.DateTime)
	return out
}

// SplitQuote separates a reply from the message it quotes. Both markers must
// be present, otherwise the text is returned unchanged.
func SplitQuote(text string) (query, quoted string) {
	if !strings.Contains(text, referencedMarker) || !strings.Contains(text, userMarker) {
		return text, ""
	}
	before, after, _ := strings.Cut(text, userMarker)
	quoted = before
	if _, q, ok := strings.Cut(before, referencedMarker); ok {
		quoted = q
	}
	return after, quoted
}

// CommonsenseKey is "bot:self" when commonsense is shared across groups and
// "bot:group" otherwise.
func CommonsenseKey(botID, groupID string, crossGroup bool) string {
	if crossGroup {
		return botID + ":self"
	}
	return botID + ":" + groupID
}
