package planning

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

const (
	maxSuggestedQuestions = 3
	maxFormOptions        = 6
)

// jsonBlockRe matches fenced JSON code blocks in markdown.
var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

// rawMetadata decodes each field separately so one malformed field does not
// discard the others.
type rawMetadata struct {
	ReadyToPlan        json.RawMessage `json:"ready_to_plan"`
	SuggestedQuestions json.RawMessage `json:"suggested_questions"`
	FormOptions        json.RawMessage `json:"form_options"`
	AgentAction        json.RawMessage `json:"agent_action"`
}

// ParseTurn splits an assistant reply into display text and metadata. The
// metadata block is the last fenced JSON block of the reply. A missing or
// malformed block yields default metadata and the reply unchanged.
func ParseTurn(content string) (string, domain.TurnMetadata) {
	meta := domain.TurnMetadata{SuggestedQuestions: []string{}, FormOptions: []domain.FormOption{}}

	locs := jsonBlockRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(content), meta
	}
	last := locs[len(locs)-1]
	block := content[last[2]:last[3]]

	var raw rawMetadata
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return strings.TrimSpace(content), meta
	}
	display := strings.TrimSpace(content[:last[0]] + content[last[1]:])

	// Only a literal JSON true counts.
	meta.ReadyToPlan = bytes.Equal(bytes.TrimSpace(raw.ReadyToPlan), []byte("true"))

	var questions []any
	if json.Unmarshal(raw.SuggestedQuestions, &questions) == nil {
		for _, q := range questions {
			s, ok := q.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			meta.SuggestedQuestions = append(meta.SuggestedQuestions, strings.TrimSpace(s))
			if len(meta.SuggestedQuestions) == maxSuggestedQuestions {
				break
			}
		}
	}

	var options []any
	if json.Unmarshal(raw.FormOptions, &options) == nil {
		for _, o := range options {
			label := formOptionLabel(o)
			if label == "" {
				continue
			}
			meta.FormOptions = append(meta.FormOptions, domain.FormOption{Label: label})
			if len(meta.FormOptions) == maxFormOptions {
				break
			}
		}
	}

	var action string
	if json.Unmarshal(raw.AgentAction, &action) == nil {
		if a := domain.AgentAction(strings.TrimSpace(action)); a.IsValid() {
			meta.AgentAction = &a
		}
	}
	return display, meta
}

// formOptionLabel accepts either "label" or {"label": "..."}.
func formOptionLabel(v any) string {
	switch o := v.(type) {
	case string:
		return strings.TrimSpace(o)
	case map[string]any:
		if s, ok := o["label"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// extractJSON returns the JSON payload of a generation reply: the first
// fenced block that parses, else the outermost braces of the reply.
func extractJSON(content string) []byte {
	for _, m := range jsonBlockRe.FindAllStringSubmatch(content, -1) {
		if json.Valid([]byte(m[1])) {
			return []byte(m[1])
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil
	}
	return []byte(content[start : end+1])
}
