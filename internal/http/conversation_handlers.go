package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrGSommer/vacation-planner-sub001/internal/auth"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/planning"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// conversationResponse wraps the conversation with whatever an action
// produced besides it.
type conversationResponse struct {
	Conversation *domain.Conversation    `json:"conversation"`
	Job          *domain.PlanJob         `json:"job,omitempty"`
	PackingList  *planning.PackingResult `json:"packing_list,omitempty"`
	Budget       *planning.BudgetResult  `json:"budget,omitempty"`
}

type sendMessageRequest struct {
	Text            string `json:"text"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

type adjustRequest struct {
	Instructions string `json:"instructions"`
}

// conversationKey builds the key from the authenticated user, the {mode}
// path segment and the trip_id query parameter.
func conversationKey(r *http.Request) domain.ConversationKey {
	return domain.ConversationKey{
		UserID: auth.UserIDFromContext(r.Context()),
		TripID: strings.TrimSpace(r.URL.Query().Get("trip_id")),
		Mode:   domain.Mode(r.PathValue("mode")),
	}
}

func (s *Server) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Engine.LoadConversation(r.Context(), conversationKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{Conversation: conv})
}

// conversationAction runs one engine operation for key.
type conversationAction func(s *Server, w http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error)

var conversationActions = map[string]conversationAction{
	"start":                  startConversation,
	"messages":               sendMessage,
	"generate-structure":     simpleAction((*planning.Engine).GenerateStructure),
	"generate-plan":          simpleAction((*planning.Engine).GeneratePlan),
	"generate-activities":    simpleAction((*planning.Engine).GenerateActivitiesClientSide),
	"generate-all":           generateAll,
	"confirm":                simpleAction((*planning.Engine).ConfirmPlan),
	"confirm-with-conflicts": simpleAction((*planning.Engine).ConfirmWithConflicts),
	"dismiss-conflicts":      simpleAction((*planning.Engine).DismissConflicts),
	"reject":                 simpleAction((*planning.Engine).RejectPlan),
	"preview":                simpleAction((*planning.Engine).ShowPreview),
	"adjust":                 adjustPlan,
	"reset":                  simpleAction((*planning.Engine).Reset),
	"save":                   simpleAction((*planning.Engine).SaveConversationNow),
	"packing-list":           packingList,
	"budget-categories":      budgetCategories,
}

func (s *Server) handleConversationAction(w http.ResponseWriter, r *http.Request) {
	action, ok := conversationActions[r.PathValue("action")]
	if !ok {
		writeErr(w, http.StatusNotFound, "not found", fmt.Sprintf("unknown action %q", r.PathValue("action")))
		return
	}
	resp, code, err := action(s, w, r, conversationKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, resp)
}

func simpleAction(op func(*planning.Engine, context.Context, domain.ConversationKey) (*domain.Conversation, error)) conversationAction {
	return func(s *Server, _ http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
		conv, err := op(s.deps.Engine, r.Context(), key)
		return conversationResponse{Conversation: conv}, http.StatusOK, err
	}
}

func startConversation(s *Server, w http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	var tc domain.TripContext
	if err := decodeJSON(w, r, &tc); err != nil {
		return conversationResponse{}, 0, err
	}
	tc.ExistingSummary = nil
	conv, err := s.deps.Engine.StartConversation(r.Context(), key, tc)
	return conversationResponse{Conversation: conv}, http.StatusOK, err
}

func sendMessage(s *Server, w http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return conversationResponse{}, 0, err
	}
	conv, err := s.deps.Engine.SendMessage(r.Context(), key, req.Text, req.ClientMessageID)
	return conversationResponse{Conversation: conv}, http.StatusOK, err
}

func adjustPlan(s *Server, w http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return conversationResponse{}, 0, err
	}
	if strings.TrimSpace(req.Instructions) == "" {
		return conversationResponse{}, 0, fmt.Errorf("instructions required: %w", storage.ErrValidation)
	}
	conv, err := s.deps.Engine.AdjustPlan(r.Context(), key, req.Instructions)
	return conversationResponse{Conversation: conv}, http.StatusOK, err
}

func generateAll(s *Server, _ http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	conv, job, err := s.deps.Engine.GenerateAllViaServer(r.Context(), key)
	if err != nil {
		return conversationResponse{}, 0, err
	}
	return conversationResponse{Conversation: conv, Job: &job}, http.StatusAccepted, nil
}

func packingList(s *Server, _ http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	conv, res, err := s.deps.Engine.GeneratePackingList(r.Context(), key)
	return conversationResponse{Conversation: conv, PackingList: res}, http.StatusOK, err
}

func budgetCategories(s *Server, _ http.ResponseWriter, r *http.Request, key domain.ConversationKey) (conversationResponse, int, error) {
	conv, res, err := s.deps.Engine.GenerateBudgetCategories(r.Context(), key)
	return conversationResponse{Conversation: conv, Budget: res}, http.StatusOK, err
}
