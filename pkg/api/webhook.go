package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// handleWebhooks manages webhook registrations.
func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createWebhook(w, r)
	case http.MethodGet:
		s.listWebhooks(w, r)
	case http.MethodDelete:
		s.deleteWebhook(w, r)
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, `{"error":"missing_url"}`, http.StatusBadRequest)
		return
	}

	cfg := &store.WebhookConfig{
		WebhookID: fmt.Sprintf("wh_%d", time.Now().UnixNano()),
		URL:       req.URL,
		Secret:    generateToken(),
		Events:    req.Events,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	if err := s.store.RegisterWebhook(r.Context(), cfg); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_register_webhook","error":"%v"}`+"\n", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	// The secret appears in this response and nowhere else.
	writeJSON(w, r, http.StatusCreated, struct {
		WebhookID string `json:"webhook_id"`
		Secret    string `json:"secret"`
	}{cfg.WebhookID, cfg.Secret})
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.ListWebhooks(r.Context())
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_list_webhooks","error":"%v"}`+"\n", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	for _, wh := range hooks {
		wh.Secret = ""
	}
	writeJSON(w, r, http.StatusOK, hooks)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/webhooks"), "/")
	if id == "" {
		http.Error(w, `{"error":"missing_webhook_id"}`, http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteWebhook(r.Context(), id); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_delete_webhook","error":"%v"}`+"\n", err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
