package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/identity"
	"github.com/ashureev/agent-relay/internal/tasks"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ConvID         string `json:"conv_id,omitempty"`
}

// ResetRequest is the optional body of POST /api/reset.
type ResetRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	ConvID         string `json:"conv_id,omitempty"`
}

// ResetResponse confirms a reset.
type ResetResponse struct {
	Message string `json:"message"`
	ConvID  string `json:"conv_id"`
}

// Chat runs one turn synchronously. Agent failures are 200 with success=false.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	convID, ok := identity.ConversationID(firstSet(req.ConversationID, req.ConvID), tasks.DefaultConversation)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	res, err := h.svc.Chat(r.Context(), convID, strings.TrimSpace(req.SessionID), req.Message)
	if err != nil {
		h.logger.Error("Chat failed",
			"conversation_id", convID,
			"user", identity.UsernameFromContext(r.Context()),
			"error", err,
		)
		Error(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, res)
}

// Reset forgets a conversation. The id comes from the query string or the body.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	raw := firstSet(r.URL.Query().Get("conversation_id"), r.URL.Query().Get("conv_id"))
	if raw == "" && r.ContentLength != 0 {
		var body ResetRequest
		if err := h.decodeBody(w, r, &body); err != nil && !errors.Is(err, errEmptyBody) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		raw = firstSet(body.ConversationID, body.ConvID)
	}

	convID, ok := identity.ConversationID(raw, tasks.DefaultConversation)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := h.svc.Reset(r.Context(), convID); err != nil {
		h.logger.Error("Reset failed", "conversation_id", convID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to reset session: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, ResetResponse{Message: "Conversation reset successfully", ConvID: convID})
}

// Sessions lists resumable agent sessions for the configured project.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	listing, err := h.history.ListSessions(r.Context(), h.workDir)
	if err != nil {
		h.logger.Error("Failed to list agent sessions", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to list sessions: "+err.Error())
		return
	}
	if listing.Sessions == nil {
		listing.Sessions = []domain.HistorySession{}
	}
	JSON(w, http.StatusOK, listing)
}

// Conversations lists the conversations this server has recorded.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.Conversations(r.Context())
	if err != nil {
		h.logger.Error("Failed to list conversations", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to list conversations: "+err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": all})
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
