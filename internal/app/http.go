package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"versionstore/api/internal/auth"
	"versionstore/api/internal/rbac"
	"versionstore/api/internal/versioning"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// linkBody names the forward link type and the optional back link type.
type linkBody struct {
	Type     string `json:"type"`
	BackType string `json:"backType"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		handler := s.service.MetricsHandler()
		if handler == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		handler.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"tenant":        session.Tenant,
			"role":          session.Role,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "items" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	s.handleItems(w, r, session, parts[2:])
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	tenant := session.Tenant

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.ListItems(r.Context(), tenant, r.URL.Query().Get("sort")))
		return

	case len(parts) == 0 && r.Method == http.MethodPost:
		if !s.allow(w, session, rbac.RightManageItems) {
			return
		}
		var body versioning.Content
		if !decodeRequired(w, r, &body) {
			return
		}
		s.respond(w, http.StatusCreated)(s.service.AddItem(r.Context(), tenant, body))
		return

	case len(parts) == 1 && parts[0] == "batch":
		if !s.allow(w, session, rbac.RightManageItems) {
			return
		}
		switch r.Method {
		case http.MethodPost:
			var body []versioning.Content
			if !decodeRequired(w, r, &body) {
				return
			}
			s.respond(w, http.StatusCreated)(s.service.AddItems(r.Context(), tenant, body))
		case http.MethodDelete:
			s.respond(w, http.StatusOK)(s.service.DeleteAll(r.Context(), tenant))
		default:
			methodNotAllowed(w)
		}
		return

	case len(parts) == 1 && parts[0] == "commits":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.CommitLog(r.Context(), tenant, queryInt(r, "limit", 50)))
		return

	case len(parts) == 2 && parts[0] == "commit":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.ItemsAtCommit(r.Context(), tenant, parts[1], r.URL.Query().Get("sort")))
		return

	case len(parts) >= 1 && len(parts) <= 2 && parts[0] == "head":
		s.handleHead(w, r, session, parts[1:])
		return

	case len(parts) == 1 && parts[0] == "search":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		query := r.URL.Query()
		s.respond(w, http.StatusOK)(s.service.Search(r.Context(), tenant, query.Get("q"), queryInt(r, "limit", 20), queryInt(r, "offset", 0)))
		return

	case len(parts) == 2 && parts[0] == "mirror" && parts[1] == "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetDatabaseItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.MirrorHistory(tenant, queryInt(r, "limit", 50)))
		return

	case len(parts) == 2 && parts[0] == "mirror":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetDatabaseItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.MirrorViewsAt(tenant, parts[1]))
		return

	case len(parts) == 3 && parts[0] == "link":
		s.handleLink(w, r, session, parts[1], parts[2])
		return

	case len(parts) == 2 && parts[1] == "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.ItemHistory(r.Context(), tenant, parts[0]))
		return

	case len(parts) == 1:
		s.handleItem(w, r, session, parts[0])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request, session Session, itemID string) {
	tenant := session.Tenant

	if r.Method == http.MethodGet {
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.GetItem(r.Context(), tenant, itemID))
		return
	}

	if !s.allow(w, session, rbac.RightManageItems) {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body versioning.Content
		if !decodeRequired(w, r, &body) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.UpdateItem(r.Context(), tenant, itemID, body))
	case http.MethodPatch:
		var body versioning.Content
		if !decodeRequired(w, r, &body) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.PatchItem(r.Context(), tenant, itemID, body))
	case http.MethodDelete:
		s.respond(w, http.StatusOK)(s.service.DeleteItem(r.Context(), tenant, itemID))
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleHead(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	tenant := session.Tenant

	if r.Method == http.MethodGet && len(rest) == 0 {
		if !s.allow(w, session, rbac.RightGetItems) {
			return
		}
		s.respond(w, http.StatusOK)(s.service.HeadInfo(r.Context(), tenant))
		return
	}

	if r.Method == http.MethodPatch {
		if !s.allow(w, session, rbac.RightManageItems) {
			return
		}
		commitID := ""
		if len(rest) == 1 {
			commitID = rest[0]
		}
		s.respond(w, http.StatusOK)(s.service.ResetHead(r.Context(), tenant, commitID))
		return
	}

	methodNotAllowed(w)
}

func (s *HTTPServer) handleLink(w http.ResponseWriter, r *http.Request, session Session, source, target string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !s.allow(w, session, rbac.RightManageItems) {
		return
	}
	var body linkBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if r.Method == http.MethodPost {
		s.respond(w, http.StatusCreated)(s.service.CreateLink(r.Context(), session.Tenant, source, target, body.Type, body.BackType))
		return
	}
	s.respond(w, http.StatusOK)(s.service.DeleteLink(r.Context(), session.Tenant, source, target, body.Type, body.BackType))
}

// respond writes payload with status, or the mapped error.
func (s *HTTPServer) respond(w http.ResponseWriter, status int) func(map[string]any, error) {
	return func(payload map[string]any, err error) {
		if err != nil {
			status, code, message, details := mapError(err)
			if status == http.StatusInternalServerError {
				log.Printf("items: %v", err)
			}
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, status, payload)
	}
}

func (s *HTTPServer) allow(w http.ResponseWriter, session Session, right rbac.Right) bool {
	if s.service.Can(session.Role, right) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"right": right})
	return false
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeRequired decodes a body that must be present and writes the 400
// itself.
func decodeRequired(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is required", nil)
		return false
	}
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if versioning.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	}
	if versioning.IsConflict(err) {
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	}
	if versioning.IsInvalidArgument(err) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
