package planning

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/llm"
)

const kickoffMessage = "Hi! Please help me plan this trip."

// metadataInstructions is appended to every conversation system prompt.
var metadataInstructions = `End every reply with a JSON code block describing the state of the conversation:
` + "```json" + `
{"ready_to_plan": false, "suggested_questions": ["..."], "form_options": [{"label": "..."}], "agent_action": null}
` + "```" + `
- ready_to_plan: true only when destination, dates and main preferences are known.
- suggested_questions: at most 3 short follow-up questions the user could ask.
- form_options: at most 6 quick-reply choices for your question.
- agent_action: one of "generate_packing_list", "generate_budget_categories", "generate_structure", "generate_plan" when the user asked for it, otherwise null.
`

// conversationSystemPrompt builds the system prompt for a dialogue turn.
func conversationSystemPrompt(mode domain.Mode, tc domain.TripContext) string {
	var sb strings.Builder
	if mode == domain.ModeEnhance {
		sb.WriteString("You are a travel planning assistant helping the user extend an existing trip. ")
		sb.WriteString("Suggest only additions that do not duplicate what the trip already has.\n\n")
	} else {
		sb.WriteString("You are a travel planning assistant helping the user plan a new trip. ")
		sb.WriteString("Ask about destination, dates, travelers, budget and interests, one topic at a time.\n\n")
	}
	writeContext(&sb, tc)
	sb.WriteString("Be concise and friendly.\n\n")
	sb.WriteString(metadataInstructions)
	return sb.String()
}

func writeContext(sb *strings.Builder, tc domain.TripContext) {
	sb.WriteString("## Trip context\n\n")
	if tc.Destination != "" {
		fmt.Fprintf(sb, "- Destination: %s\n", tc.Destination)
	}
	if tc.StartDate != "" || tc.EndDate != "" {
		fmt.Fprintf(sb, "- Dates: %s to %s\n", orUnknown(tc.StartDate), orUnknown(tc.EndDate))
	}
	if tc.Currency != "" {
		fmt.Fprintf(sb, "- Currency: %s (all amounts in this currency)\n", tc.Currency)
	}
	if tc.Travelers > 0 {
		fmt.Fprintf(sb, "- Travelers: %d\n", tc.Travelers)
	}
	for _, k := range slices.Sorted(maps.Keys(tc.Preferences)) {
		fmt.Fprintf(sb, "- %s: %s\n", k, tc.Preferences[k])
	}
	if s := tc.ExistingSummary; s != nil {
		fmt.Fprintf(sb, "\n## Existing trip %q\n\n", s.TripName)
		writeList(sb, "Stops", s.Stops)
		writeList(sb, "Days", s.DayDates)
		writeList(sb, "Activities", s.ActivityTitles)
		writeList(sb, "Budget categories", s.BudgetCategories)
	}
	sb.WriteString("\n")
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "- %s: %s\n", label, strings.Join(items, ", "))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func structureSystemPrompt(in GenerationInput) string {
	var sb strings.Builder
	sb.WriteString("Summarize the agreed trip as a skeleton. Reply with only a JSON code block:\n")
	sb.WriteString("```json\n{\"stops\": [{\"name\": \"...\"}], \"day_count\": 5, \"budget_category_count\": 4, \"estimated_seconds\": 60}\n```\n\n")
	writeContext(&sb, in.Context)
	return sb.String()
}

func planSystemPrompt(in GenerationInput) string {
	var sb strings.Builder
	sb.WriteString("Produce the complete, detailed travel plan. Reply with only a JSON code block:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`{"trip_name": "...", "summary": "...",
 "stops": [{"name": "...", "coords": {"lat": 0, "lng": 0}, "address": "...", "kind": "overnight", "arrival_date": "YYYY-MM-DD", "departure_date": "YYYY-MM-DD"}],
 "days": [{"date": "YYYY-MM-DD", "title": "...", "activities": [{"title": "...", "category": "sightseeing", "time": "09:00", "location": "...", "cost": 0, "notes": "...", "sort_order": 0}]}],
 "budget_categories": [{"name": "...", "color": "#RRGGBB", "limit": 0}]}`)
	sb.WriteString("\n```\n\nRules:\n")
	fmt.Fprintf(&sb, "- category is one of: %s\n", joinCategories())
	sb.WriteString("- stop kind is overnight or waypoint\n")
	sb.WriteString("- sort_order starts at 0 within each day\n")
	sb.WriteString("- costs are non-negative numbers in the trip currency\n")
	if in.Mode == domain.ModeEnhance {
		sb.WriteString("- do not repeat existing stops, activities or budget categories\n")
	}
	if in.Structure != nil {
		data, _ := json.Marshal(in.Structure)
		fmt.Fprintf(&sb, "- follow this agreed structure exactly: %s\n", data)
	}
	sb.WriteString("\n")
	writeContext(&sb, in.Context)
	return sb.String()
}

func adjustSystemPrompt(in GenerationInput, current *domain.Plan) string {
	data, _ := json.Marshal(current)
	return planSystemPrompt(in) + "## Current plan\n\n```json\n" + string(data) + "\n```\n\n" +
		"Revise the current plan according to the user's instructions and reply with the full revised plan.\n"
}

func packingSystemPrompt(in GenerationInput) string {
	var sb strings.Builder
	sb.WriteString("Create a packing list for this trip. Reply with only a JSON code block:\n")
	sb.WriteString("```json\n{\"items\": [{\"name\": \"...\", \"category\": \"...\", \"quantity\": 1}]}\n```\n\n")
	writeContext(&sb, in.Context)
	return sb.String()
}

func budgetSystemPrompt(in GenerationInput) string {
	var sb strings.Builder
	sb.WriteString("Propose budget categories for this trip. Reply with only a JSON code block:\n")
	sb.WriteString("```json\n{\"budget_categories\": [{\"name\": \"...\", \"color\": \"#RRGGBB\", \"limit\": 0}]}\n```\n\n")
	sb.WriteString("Do not repeat existing budget categories.\n\n")
	writeContext(&sb, in.Context)
	return sb.String()
}

func joinCategories() string {
	names := make([]string, len(domain.ActivityCategories))
	for i, c := range domain.ActivityCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// modelTranscript renders the dialogue for the model. The kickoff message
// keeps the transcript starting with a user turn.
func modelTranscript(msgs []domain.Message, final string) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+2)
	out = append(out, llm.Message{Role: string(domain.RoleUser), Content: kickoffMessage})
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if final != "" {
		out = append(out, llm.Message{Role: string(domain.RoleUser), Content: final})
	}
	return out
}
