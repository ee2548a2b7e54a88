package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Frokesy/goatmail-be/internal/account"
	"github.com/Frokesy/goatmail-be/internal/auth"
	"github.com/Frokesy/goatmail-be/internal/flags"
	"github.com/Frokesy/goatmail-be/internal/inbox"
	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/outbound"
	"github.com/Frokesy/goatmail-be/internal/scheduler"
)

const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return false
	}
	return true
}

// writeMailError maps service errors onto HTTP responses.
func (s *Server) writeMailError(w http.ResponseWriter, r *http.Request, err error) {
	var fnf *mail.FolderNotFoundError
	switch {
	case errors.Is(err, mail.ErrNotConfigured):
		writeError(w, http.StatusNotFound, "not_configured", err.Error())
	case errors.Is(err, mail.ErrCredentialUnreadable):
		writeError(w, http.StatusBadRequest, "credentials_unreadable",
			"Stored password could not be decrypted. Please re-enter it.")
	case errors.As(err, &fnf):
		writeError(w, http.StatusNotFound, "folder_not_found", fnf.Error())
	case errors.Is(err, mail.ErrUnknownFolder),
		errors.Is(err, inbox.ErrInvalidMessageID),
		errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, outbound.ErrInvalidRequest),
		errors.Is(err, outbound.ErrNoRecipients):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, mail.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", "Message not found")
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, account.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case mail.IsKind(err, mail.KindFolderNotFound):
		writeError(w, http.StatusNotFound, "folder_not_found", err.Error())
	case mail.IsKind(err, mail.KindUnsupported):
		writeError(w, http.StatusUnprocessableEntity, "unsupported", err.Error())
	case mail.IsKind(err, mail.KindTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "Mail server did not respond in time")
	case mail.IsKind(err, mail.KindConnection), mail.IsKind(err, mail.KindParse):
		writeError(w, http.StatusBadGateway, "connection_error", err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func principal(r *http.Request) string {
	p, _ := PrincipalFrom(r.Context())
	return p.UserID
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status     string            `json:"status"`
		Dispatcher *scheduler.Status `json:"dispatcher,omitempty"`
	}{Status: "ok"}
	if s.deps.Dispatcher != nil && s.deps.Dispatcher.IsRunning() {
		st := s.deps.Dispatcher.Status()
		resp.Dispatcher = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.deps.Accounts.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": u.ID, "email": u.Email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, u, err := s.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "email": u.Email})
}

// userResponse is the caller's profile. The password hash never leaves
// the store.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Accounts.GetUser(r.Context(), principal(r))
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]userResponse{
		"user": {ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt},
	})
}

func (s *Server) handleGetIncoming(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Accounts.GetIncoming(r.Context(), principal(r))
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutIncoming(w http.ResponseWriter, r *http.Request) {
	var cfg account.IncomingConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.deps.Accounts.SetIncoming(r.Context(), principal(r), cfg); err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteIncoming(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.DeleteIncoming(r.Context(), principal(r)); err != nil {
		s.writeMailError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOutgoing(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Accounts.GetOutgoing(r.Context(), principal(r))
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutOutgoing(w http.ResponseWriter, r *http.Request) {
	var cfg account.OutgoingConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.deps.Accounts.SetOutgoing(r.Context(), principal(r), cfg); err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// folderParam parses ?folder=, defaulting to INBOX.
func folderParam(r *http.Request) (mail.Folder, error) {
	return mail.ParseFolder(r.URL.Query().Get("folder"))
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	folder, err := folderParam(r)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
	}
	listing, err := s.deps.Inbox.List(r.Context(), principal(r), folder, limit)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	folder, err := folderParam(r)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	single, err := s.deps.Inbox.Get(r.Context(), principal(r), folder, chi.URLParam(r, "id"))
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, single)
}

func (s *Server) handleFlagged(kind flags.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listing, err := s.deps.Inbox.ListFlagged(r.Context(), principal(r), kind)
		if err != nil {
			s.writeMailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

func (s *Server) handleSetFlag(kind flags.Kind, on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.deps.Inbox.SetFlag(r.Context(), principal(r), kind, id, on); err != nil {
			s.writeMailError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, string(kind): on})
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req outbound.Request
	if !decodeBody(w, r, &req) {
		return
	}
	msgID, err := s.deps.Mailer.SendNow(r.Context(), principal(r), &req)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": msgID})
}

type scheduleRequest struct {
	outbound.Request
	ScheduledAt string `json:"scheduledAt"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "scheduledAt must be an RFC 3339 timestamp")
		return
	}
	e, err := s.deps.Mailer.Schedule(r.Context(), principal(r), &req.Request, at)
	if err != nil {
		s.writeMailError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          e.ID,
		"scheduledAt": e.ScheduledAt.Format(time.RFC3339),
		"status":      e.Status,
	})
}
