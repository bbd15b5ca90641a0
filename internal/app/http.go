package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"masthead/api/internal/audit"
	"masthead/api/internal/auth"
	"masthead/api/internal/decision"
	"masthead/api/internal/genai"
	"masthead/api/internal/options"
	"masthead/api/internal/scoring"
	"masthead/api/internal/search"
	"masthead/api/internal/store"
	"masthead/api/internal/util"
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

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes take no session.
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		s.handleLogout(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/topics":
		s.handleListTopics(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/topics":
		s.handleTopicDecision(w, r, session)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/topics/") && strings.HasSuffix(r.URL.Path, "/timeline"):
		topicID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/topics/"), "/timeline")
		s.handleTimeline(w, r, topicID)
	case r.Method == http.MethodGet && r.URL.Path == "/api/options":
		s.handleListOptions(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/options":
		s.handleOptionSelection(w, r, session)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/options/") && strings.HasSuffix(r.URL.Path, "/refine"):
		optionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/options/"), "/refine")
		s.handleRefineOption(w, r, session, optionID)
	case r.Method == http.MethodGet && r.URL.Path == "/api/integrity":
		s.handleIntegrityQueue(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/integrity":
		s.handleIntegrityDecision(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/audit-events":
		s.handleAuditEvents(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/audit-events/export":
		s.handleAuditExport(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/performance/weights":
		s.handleGetWeights(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/performance/weights":
		s.handleUpdateWeights(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/jobs":
		s.handleListJobs(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/scoring":
		s.handleRunScoring(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/jobs/"):
		s.handleDeleteJob(w, r, strings.TrimPrefix(r.URL.Path, "/api/jobs/"))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeData(w, status, map[string]any{
		"ready":  status == http.StatusOK,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}
	session, err := s.service.Login(r.Context(), strings.TrimSpace(body.Email), body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), body.RefreshToken)
	writeData(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":         session.Token,
		"refresh_token": session.RefreshToken,
		"operator_id":   session.OperatorID,
		"email":         session.Email,
		"name":          session.Name,
		"expires_at":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (s *HTTPServer) handleListTopics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, ok := queryInt(w, query.Get("limit"), 50)
	if !ok {
		return
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		resp, err := s.service.SearchTopics(r.Context(), search.Query{
			Text:     q,
			Status:   strings.TrimSpace(query.Get("status")),
			Cluster:  strings.TrimSpace(query.Get("cluster")),
			Platform: strings.TrimSpace(query.Get("platform")),
			Limit:    limit,
		})
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, resp)
		return
	}

	items, err := s.service.TopicReviewBatch(r.Context(), strings.TrimSpace(query.Get("status")), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"topics": items})
}

func (s *HTTPServer) handleTopicDecision(w http.ResponseWriter, r *http.Request, session Session) {
	var req decision.TopicDecision
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	event, err := s.service.DecideTopic(r.Context(), session.Actor(), req)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"audit_event": event})
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, topicID string) {
	if topicID == "" || strings.Contains(topicID, "/") {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "topic id is required", nil)
		return
	}
	entries, err := s.service.Timeline(r.Context(), topicID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"topic_id": topicID, "timeline": entries})
}

func (s *HTTPServer) handleListOptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	items, err := s.service.TopicsWithOptions(r.Context(),
		strings.TrimSpace(query.Get("topic_id")),
		strings.TrimSpace(query.Get("status")))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"topics": items})
}

func (s *HTTPServer) handleOptionSelection(w http.ResponseWriter, r *http.Request, session Session) {
	var req decision.OptionSelection
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	event, err := s.service.SelectOption(r.Context(), session.Actor(), req)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"audit_event": event})
}

func (s *HTTPServer) handleRefineOption(w http.ResponseWriter, r *http.Request, session Session, optionID string) {
	if optionID == "" || strings.Contains(optionID, "/") {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "option id is required", nil)
		return
	}
	var body struct {
		RefinementType string `json:"refinement_type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.RefineOption(r.Context(), session.Actor(), optionID, body.RefinementType)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *HTTPServer) handleIntegrityQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r.URL.Query().Get("limit"), 50)
	if !ok {
		return
	}
	items, err := s.service.FlaggedItems(r.Context(), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleIntegrityDecision(w http.ResponseWriter, r *http.Request, session Session) {
	var req decision.IntegrityDecision
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	event, err := s.service.DecideIntegrity(r.Context(), session.Actor(), req)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"audit_event": event})
}

func (s *HTTPServer) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q, ok := auditQuery(w, r)
	if !ok {
		return
	}
	page, err := s.service.AuditEvents(r.Context(), q)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (s *HTTPServer) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	q, ok := auditQuery(w, r)
	if !ok {
		return
	}
	result, err := s.service.ExportAuditEvents(r.Context(), q)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func auditQuery(w http.ResponseWriter, r *http.Request) (audit.Query, bool) {
	query := r.URL.Query()
	limit, ok := queryInt(w, query.Get("limit"), 0)
	if !ok {
		return audit.Query{}, false
	}
	q := audit.Query{
		Stage:   strings.TrimSpace(query.Get("stage")),
		TopicID: strings.TrimSpace(query.Get("topic_id")),
		Cursor:  strings.TrimSpace(query.Get("cursor")),
		Limit:   limit,
	}
	for _, bound := range []struct {
		param string
		dst   **time.Time
	}{
		{"date_from", &q.DateFrom},
		{"date_to", &q.DateTo},
	} {
		raw := strings.TrimSpace(query.Get(bound.param))
		if raw == "" {
			continue
		}
		ts, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("%s must be RFC3339 or YYYY-MM-DD", bound.param), nil)
			return audit.Query{}, false
		}
		*bound.dst = &ts
	}
	return q, true
}

func parseDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *HTTPServer) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Weights(r.Context())
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateWeights(w http.ResponseWriter, r *http.Request, session Session) {
	var update scoring.WeightsUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, err := s.service.UpdateWeights(r.Context(), session.Actor(), update)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"weights": version})
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r.URL.Query().Get("limit"), 50)
	if !ok {
		return
	}
	runs, err := s.service.JobRuns(r.Context(), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleRunScoring(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.RunScoring(r.Context())
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"run": run})
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "job run id is required", nil)
		return
	}
	if err := s.service.DeleteJobRun(r.Context(), id); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.ShortID()
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		log.Printf(`{"request_id":"%s","path":"%s","error":%q}`, requestID, r.URL.Path, err.Error())
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, decision.ErrTopicNotFound):
		return http.StatusNotFound, "TOPIC_NOT_FOUND", err.Error(), nil
	case errors.Is(err, decision.ErrOptionNotFound):
		return http.StatusNotFound, "OPTION_NOT_FOUND", err.Error(), nil
	case errors.Is(err, decision.ErrTopicAlreadyProcessed):
		return http.StatusConflict, "TOPIC_ALREADY_PROCESSED", err.Error(), nil
	case errors.Is(err, decision.ErrOptionMismatch):
		return http.StatusConflict, "OPTION_MISMATCH", err.Error(), nil
	case errors.Is(err, decision.ErrInvalidRequest),
		errors.Is(err, options.ErrUnknownRefinement),
		errors.Is(err, options.ErrNotScript):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, scoring.ErrInvalidWeights):
		return http.StatusUnprocessableEntity, "INVALID_WEIGHTS", err.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, audit.ErrArchiveUnavailable), errors.Is(err, genai.ErrDisabled):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	errObj := map[string]any{"error": message, "code": code}
	if details != nil {
		errObj["details"] = details
	}
	writeJSON(w, status, map[string]any{"success": false, "error": errObj})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(w http.ResponseWriter, raw string, fallback int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
		return 0, false
	}
	return parsed, true
}
