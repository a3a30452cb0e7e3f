package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apperrors "github.com/ferrolab/agentgate/internal/platform/errors"
	"github.com/ferrolab/agentgate/internal/services/gateway/audit"
	"github.com/ferrolab/agentgate/internal/services/gateway/provision"
	"github.com/ferrolab/agentgate/internal/services/gateway/router"
	"github.com/ferrolab/agentgate/internal/services/gateway/serving"
	"github.com/ferrolab/agentgate/internal/services/gateway/usergrant"
)

const maxRequestBodyBytes = 1 << 20

type handlerDeps struct {
	provisioner  *provision.Service
	router       *router.Router
	recorder     audit.Recorder
	grantConfig  usergrant.Config
	grantEnabled bool
}

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

type credentialsResponse struct {
	Status string `json:"status"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	UserID  string        `json:"user_id"`
	Message string        `json:"message"`
	History []chatMessage `json:"history"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// newHandler builds the gateway's HTTP routing surface.
func newHandler(deps handlerDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/credentials", deps.handleCredentials)
	mux.HandleFunc("POST /api/v1/chat", deps.handleChat)
	mux.HandleFunc("GET /api/v1/audit", deps.handleAudit)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return otelhttp.NewHandler(mux, "agentgate.http")
}

func (d handlerDeps) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !d.authorize(w, r, req.UserID) {
		return
	}

	status, err := d.provisioner.Bind(r.Context(), req.UserID, req.ClientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialsResponse{Status: status})
}

func (d handlerDeps) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !d.authorize(w, r, req.UserID) {
		return
	}

	history := make([]serving.Message, 0, len(req.History))
	for _, message := range req.History {
		history = append(history, serving.Message{Role: message.Role, Content: message.Content})
	}

	// The chat path never fails the HTTP request; transport errors come back
	// as rendered text inside a 200 response.
	text := d.router.Route(r.Context(), req.UserID, req.Message, history)
	writeJSON(w, http.StatusOK, chatResponse{Response: text})
}

func (d handlerDeps) handleAudit(w http.ResponseWriter, r *http.Request) {
	if d.recorder == nil {
		writeError(w, apperrors.New(apperrors.CodeValidationBadRequest, "audit trail is not enabled"))
		return
	}
	actor := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if actor == "" {
		writeError(w, apperrors.New(apperrors.CodeValidationUserIDEmpty, "user_id query parameter is required"))
		return
	}
	if !d.authorize(w, r, actor) {
		return
	}

	events, err := d.recorder.ListEventsByActor(r.Context(), actor, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]audit.Event{"events": events})
}

// authorize enforces the user grant when verification is enabled. The grant's
// user claim must match the user id the request acts on.
func (d handlerDeps) authorize(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !d.grantEnabled {
		return true
	}
	claims, err := usergrant.Validate(bearerToken(r), d.grantConfig)
	if err != nil {
		writeError(w, err)
		return false
	}
	if claims.UserID != strings.TrimSpace(userID) {
		writeError(w, apperrors.New(apperrors.CodeUserGrantMismatch, "user grant does not cover this user"))
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeValidationBadRequest, "request body is not valid JSON", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Details = appErr.Metadata
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: body})
}
