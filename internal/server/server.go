package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"signflow/internal/app"
	"signflow/internal/otp"
	"signflow/internal/ratelimit"
	"signflow/internal/token"
)

const defaultMaxUploadBytes = 25 << 20

// Limiters holds the per-endpoint rate limiters. A nil limiter
// disables limiting for that endpoint.
type Limiters struct {
	Upload  *ratelimit.FixedWindowLimiter
	Sign    *ratelimit.FixedWindowLimiter
	Verify  *ratelimit.FixedWindowLimiter
	General *ratelimit.FixedWindowLimiter
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Tokens         *token.Service
	Limits         Limiters
	MaxUploadBytes int64
}

// Server exposes the HTTP endpoints for senders and signers.
type Server struct {
	app            *app.App
	tokens         *token.Service
	limits         Limiters
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		limits:         cfg.Limits,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the general rate limit
// applied in front of every route.
func (s *Server) Router() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(s.limits.General, clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// sender
	s.mux.Handle("/api/documents", s.sender(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.sender(s.handleDocumentByID))

	// signer
	s.mux.HandleFunc("/api/sign/", s.handleSign)
	s.mux.HandleFunc("/api/session/info", s.handleSessionInfo)
	s.mux.HandleFunc("/api/session/submit", s.handleSessionSubmit)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sender wrappers
type senderHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) sender(next senderHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		claims, err := s.tokens.Verify(raw, token.TypeAPIAccess)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		next(w, r, claims.Subject)
	})
}

// sender handlers
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, senderID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, senderID)
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), senderID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, senderID string) {
	if !allow(s.limits.Upload, senderID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation_failed", "multipart form required and upload must fit the size limit")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation_failed", "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation_failed", "could not read upload")
		return
	}
	doc, err := s.app.CreateDocument(
		r.Context(),
		senderID,
		r.FormValue("senderEmail"),
		r.FormValue("name"),
		r.FormValue("category"),
		data,
	)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, senderID string) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		doc, signers, err := s.app.DocumentDetail(r.Context(), senderID, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document": doc,
			"signers":  signers,
		})
	case "placeholders":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var req placeholdersRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		placeholders, err := s.app.SetPlaceholders(r.Context(), senderID, id, req.Placeholders)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": placeholders,
			"count": len(placeholders),
		})
	case "send":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		doc, err := s.app.Send(r.Context(), senderID, id, req.Signers)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case "audit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		events, err := s.app.AuditTrail(r.Context(), senderID, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": events,
			"count": len(events),
		})
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, err := s.app.DownloadLink(r.Context(), senderID, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	default:
		http.NotFound(w, r)
	}
}

// signer handlers
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sign/")
	rawToken, action, _ := strings.Cut(rest, "/")
	if rawToken == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}
	if !allow(s.limits.Sign, clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		info, err := s.app.OpenLink(r.Context(), rawToken)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	case "otp":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.app.ResendOTP(r.Context(), rawToken); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case "verify":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !allow(s.limits.Verify, clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		var req verifyRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		session, err := s.app.VerifyOTP(r.Context(), rawToken, req.OTP)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sessionToken": session})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	info, err := s.app.SigningInfo(r.Context(), raw)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var (
		result app.SubmitResult
		err    error
	)
	switch req.Action {
	case "sign":
		result, err = s.app.Sign(r.Context(), raw, req.Signatures)
	case "decline":
		result, err = s.app.Decline(r.Context(), raw)
	default:
		writeErrorMessage(w, http.StatusBadRequest, "validation_failed", "action must be sign or decline")
		return
	}
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeAppError maps application sentinels onto the fixed error
// vocabulary and an HTTP status.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var invalidCode *otp.InvalidCodeError
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "expired")
	case errors.Is(err, token.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotYourTurn):
		writeError(w, http.StatusForbidden, "not_your_turn")
	case errors.Is(err, app.ErrAlreadySigned):
		writeError(w, http.StatusConflict, "already_signed")
	case errors.Is(err, app.ErrDeclined):
		writeError(w, http.StatusConflict, "declined")
	case errors.Is(err, app.ErrInvalidStatus):
		writeError(w, http.StatusConflict, "invalid_status")
	case errors.Is(err, app.ErrIncompleteBatch):
		writeErrorMessage(w, http.StatusBadRequest, "incomplete_batch", err.Error())
	case errors.Is(err, app.ErrValidation):
		writeErrorMessage(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &invalidCode):
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error:             "invalid_otp",
			Message:           invalidCode.Error(),
			RemainingAttempts: &invalidCode.Remaining,
		})
	case errors.Is(err, otp.ErrMalformedCode):
		writeErrorMessage(w, http.StatusBadRequest, "invalid_otp", err.Error())
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusUnauthorized, "otp_expired")
	case errors.Is(err, otp.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "otp_not_found")
	case errors.Is(err, otp.ErrLocked):
		writeError(w, http.StatusTooManyRequests, "otp_locked")
	case errors.Is(err, otp.ErrResendLimited):
		writeError(w, http.StatusTooManyRequests, "otp_resend_limited")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type placeholdersRequest struct {
	Placeholders []app.PlaceholderInput `json:"placeholders"`
}

type sendRequest struct {
	Signers []app.SignerInput `json:"signers"`
}

type verifyRequest struct {
	OTP string `json:"otp"`
}

type submitRequest struct {
	Action     string               `json:"action"`
	Signatures []app.SignatureInput `json:"signatures"`
}

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return "", false
	}
	return raw, true
}

func allow(l *ratelimit.FixedWindowLimiter, key string) bool {
	if l == nil {
		return true
	}
	return l.Allow(key)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
