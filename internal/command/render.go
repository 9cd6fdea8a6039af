package command

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/easeaico/roza/internal/augment"
	"github.com/easeaico/roza/internal/types"
	"github.com/easeaico/roza/internal/utils"
)

const (
	msgNoRecords  = "暂无记录"
	msgNoField    = "字段不存在"
	msgRenderFail = "数据格式错误"
)

// summaryTemplatesText renders the field-less get of each type.
var summaryTemplatesText = `
{{define "favor"}}好感度: {{.FavorValue}}
最后变化: {{.LastFavorChange}}{{end}}
{{define "usage"}}今日用量: {{.DailyUsageCount}}
总对话数: {{.TotalUsage.TotalChatCount}}
总Token: {{.TotalUsage.TotalTokens}}
输入Token: {{.TotalUsage.TotalPromptToken}}
输出Token: {{.TotalUsage.TotalOutputToken}}{{end}}
{{define "memory"}}长期记忆数: {{len .LongTermMemory}}{{end}}
{{define "persona"}}{{with .PersonaAttributes}}基本信息: {{.BasicInfo}}
生活习惯: {{.LivingHabits}}
心理特征: {{.PsychologicalTraits}}
兴趣偏好: {{.InterestsPreferences}}
反感点: {{.Dislikes}}
对AI的期望: {{.AIExpectations}}
希望记住的信息: {{.MemoryPoints}}{{end}}{{end}}
{{define "blacklist"}}{{with .BlockStats}}状态: {{if .BlockStatus}}允许{{else}}封锁{{end}}
违规次数: {{.BlockCount}}
最后操作: {{stamp .LastOperateTime}}{{end}}{{end}}
{{define "context"}}{{range $i, $e := .}}{{if $i}}

{{end}}{{stamp $e.CreatedAt}} {{$e.UserName}}: {{$e.UserQuery}}
回复: {{$e.Response}}{{end}}{{end}}
`

type renderer struct {
	tpl *template.Template
}

func newRenderer(loc *time.Location) *renderer {
	funcs := template.FuncMap{
		"stamp": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format(time.DateTime)
		},
	}
	return &renderer{tpl: template.Must(template.New("command").Funcs(funcs).Parse(summaryTemplatesText))}
}

func (r *renderer) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// summary renders doc for a field-less get.
func (r *renderer) summary(doc *types.UserDocument, typ string, poolSize int) (string, error) {
	if typ != TypeContext {
		return r.execute(typ, doc)
	}
	entries := doc.HistoryEntries
	if len(entries) == 0 {
		return msgNoRecords, nil
	}
	if poolSize > 0 {
		entries = augment.RecentHistory(entries, poolSize)
	}
	return r.execute(typ, entries)
}

// fieldValue returns the JSON encoding of path in doc.
func fieldValue(doc *types.UserDocument, path string) (string, error) {
	m, err := utils.ToMap(doc)
	if err != nil {
		return "", err
	}
	v, ok := utils.GetPath(m, path)
	if !ok || v == nil {
		return msgNoField, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
