package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// webhookBodyLimit caps inbound payload size at 1 MiB.
const webhookBodyLimit = 1 << 20

// WebhookHandler is the HTTP delivery surface for webhook triggers.
//
// It serves POST /hooks/{id}: the request body, when present, must be a
// JSON object and becomes the run's trigger data. The target automation
// must exist, be enabled, and carry a webhook trigger. The run executes
// synchronously and the response reports the recorded execution.
//
// Mount it on any mux:
//
//	mux := http.NewServeMux()
//	mux.Handle("POST /hooks/{id}", automation.NewWebhookHandler(scheduler))
type WebhookHandler struct {
	scheduler *Scheduler
}

// NewWebhookHandler creates the handler over a scheduler.
func NewWebhookHandler(scheduler *Scheduler) *WebhookHandler {
	return &WebhookHandler{scheduler: scheduler}
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing automation id")
		return
	}

	var payload map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}
	}

	a, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("automation %q not found", id))
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if a.Trigger.Type != TriggerWebhook {
		writeJSONError(w, http.StatusConflict,
			fmt.Sprintf("automation %q has trigger %q, not webhook", id, a.Trigger.Type))
		return
	}
	if !a.Enabled {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("automation %q is disabled", id))
		return
	}

	exec, err := h.scheduler.fire(r.Context(), a, payload, "webhook")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"executionId": exec.ID,
		"status":      exec.Status,
	})
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
