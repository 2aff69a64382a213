package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

func TestParseTurn(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		display   string
		ready     bool
		questions []string
		options   []string
		action    domain.AgentAction
	}{
		{
			name:    "no block",
			content: "Where would you like to go?",
			display: "Where would you like to go?",
		},
		{
			name: "full block",
			content: "Lisbon sounds great!\n\n```json\n" +
				`{"ready_to_plan": true, "suggested_questions": ["Budget?", "Hotels?"], "form_options": [{"label": "3 days"}, "5 days"], "agent_action": "generate_plan"}` +
				"\n```",
			display:   "Lisbon sounds great!",
			ready:     true,
			questions: []string{"Budget?", "Hotels?"},
			options:   []string{"3 days", "5 days"},
			action:    domain.AgentActionGeneratePlan,
		},
		{
			name:    "ready_to_plan as string is not trusted",
			content: "ok\n```json\n{\"ready_to_plan\": \"true\"}\n```",
			display: "ok",
		},
		{
			name:    "malformed block keeps text",
			content: "hello\n```json\n{ready: yes\n```",
			display: "hello\n```json\n{ready: yes\n```",
		},
		{
			name:    "bad field does not discard the others",
			content: "hi\n```json\n{\"ready_to_plan\": true, \"suggested_questions\": 7, \"agent_action\": \"launch_rockets\"}\n```",
			display: "hi",
			ready:   true,
		},
		{
			name: "caps and skips blanks",
			content: "x\n```json\n" +
				`{"suggested_questions": ["a", "", "b", "c", "d"], "form_options": ["1","2","3","4","5","6","7",{"nolabel":1}]}` +
				"\n```",
			display:   "x",
			questions: []string{"a", "b", "c"},
			options:   []string{"1", "2", "3", "4", "5", "6"},
		},
		{
			name:      "last block wins",
			content:   "```json\n{\"ready_to_plan\": true}\n```\nthen\n```json\n{\"suggested_questions\": [\"q\"]}\n```",
			display:   "```json\n{\"ready_to_plan\": true}\n```\nthen",
			questions: []string{"q"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			display, meta := ParseTurn(tt.content)
			assert.Equal(t, tt.display, display)
			assert.Equal(t, tt.ready, meta.ReadyToPlan)

			wantQ := tt.questions
			if wantQ == nil {
				wantQ = []string{}
			}
			assert.Equal(t, wantQ, meta.SuggestedQuestions)

			labels := []string{}
			for _, o := range meta.FormOptions {
				labels = append(labels, o.Label)
			}
			wantO := tt.options
			if wantO == nil {
				wantO = []string{}
			}
			assert.Equal(t, wantO, labels)

			if tt.action == "" {
				assert.Nil(t, meta.AgentAction)
			} else {
				require.NotNil(t, meta.AgentAction)
				assert.Equal(t, tt.action, *meta.AgentAction)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(extractJSON("here:\n```json\n{\"a\":1}\n```")))
	assert.JSONEq(t, `{"b":2}`, string(extractJSON("```\nnot json\n```\n```json\n{\"b\":2}\n```")))
	assert.JSONEq(t, `{"c":{"d":3}}`, string(extractJSON(`Sure! {"c":{"d":3}} hope that helps`)))
	assert.Nil(t, extractJSON("no payload at all"))
}
