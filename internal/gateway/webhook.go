package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// webhookChannelID is the ReplyAddress channel an inbound webhook is
// submitted under. Nothing reads replies addressed here unless a
// webhook caller also registers an outbound adapter under this id, so
// a webhook submission is fire-and-forget by default.
const webhookChannelID = "webhook"

type webhookRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleWebhook submits a webhook body as an InboundMessage addressed
// to the webhook path's id, acknowledging receipt without waiting for
// the RunLoop's reply.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "submitter not configured")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "webhook id is required")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	inbound := corekit.InboundMessage{
		ID:        uuid.NewString(),
		Content:   req.Content,
		ReplyTo:   corekit.NewReplyAddress(webhookChannelID, id),
		Timestamp: time.Now(),
		Metadata:  req.Metadata,
	}

	if err := s.submitter.Submit(r.Context(), inbound); err != nil {
		writeError(w, http.StatusInternalServerError, "submit: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": inbound.ID})
}
