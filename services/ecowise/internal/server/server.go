package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ecowise/internal/admingate"
	"ecowise/internal/ratelimit"
	"ecowise/internal/util"
	"ecowise/pkg/domain"
	"ecowise/pkg/session"
	"ecowise/services/ecowise/internal/app"
	"ecowise/services/ecowise/internal/security"
)

const maxJSONBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App  *app.App
	Gate *admingate.Gate
	// Redis backs rate limiting and security alerting. Nil disables both.
	Redis                      redis.UniversalClient
	TrustedProxies             *util.TrustedProxies
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	AdminRateLimitPerMinute    int
	DetectRateLimitPerMinute   int
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	gate            *admingate.Gate
	trusted         *util.TrustedProxies
	alerter         *security.AuditAlerter
	mux             *http.ServeMux
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	adminLimiter    *ratelimit.FixedWindowLimiter
	detectLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("server: admin gate is required")
	}
	s := &Server{
		app:     cfg.App,
		gate:    cfg.Gate,
		trusted: cfg.TrustedProxies,
		alerter: security.NewAuditAlerter(cfg.Redis, "ecowise:alerts"),
		mux:     http.NewServeMux(),
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				limit = fallback
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "ecowise:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.registerLimiter, err = newLimiter("register", cfg.RegisterRateLimitPerMinute, 5); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.adminLimiter, err = newLimiter("admin", cfg.AdminRateLimitPerMinute, 30); err != nil {
			return nil, err
		}
		if s.detectLimiter, err = newLimiter("detect", cfg.DetectRateLimitPerMinute, 20); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.Handle("/api/me", s.authenticated(s.handleMe))

	// profiles & history
	s.mux.HandleFunc("/user/", s.handleUser)
	s.mux.HandleFunc("/api/user/", s.handleUser)
	s.mux.Handle("/api/history", s.authenticated(s.handleAppendHistory))
	s.mux.HandleFunc("/leaderboard", s.handleLeaderboard)
	s.mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	s.mux.HandleFunc("/api/stats", s.handleStats)

	// uploads
	s.mux.Handle("/api/detect", s.authenticated(s.handleDetect))
	s.mux.Handle("/detect", s.authenticated(s.handleDetect))
	s.mux.HandleFunc("/api/analysis/health", s.handleAnalysisHealth)

	// recycling centers
	s.mux.HandleFunc("/recycling-centers", s.handleCenters)
	s.mux.HandleFunc("/api/recycling-centers", s.handleCenters)
	s.mux.HandleFunc("/get-directions/", s.handleDirections)

	// admin
	s.mux.Handle("/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/admin/user/", s.adminOnly(s.handleAdminUser))
	s.mux.Handle("/admin/export/users.csv", s.adminOnly(s.handleExportUsers))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserFromToken(token)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthorized) {
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", tokenFailureReason(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRate(w, r, s.adminLimiter, "too many admin requests") {
			s.audit(r, security.EventAdminAuthorize, security.OutcomeRateLimited)
			return
		}
		channel, err := s.gate.AuthorizeRequest(r)
		if channel == admingate.ChannelQuery {
			util.LoggerFromContext(r.Context()).Warn("admin secret passed in query string", "path", r.URL.Path)
		}
		if err != nil {
			reason := "invalid_secret"
			if channel == admingate.ChannelNone {
				reason = "missing_secret"
			}
			s.audit(r, security.EventAdminAuthorize, security.OutcomeFail, "reason", reason, "channel", string(channel))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, security.EventAdminAuthorize, security.OutcomeSuccess, "channel", string(channel))
		next(w, r)
	})
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, session.ErrTokenMissing):
		return "missing_token"
	case errors.Is(err, session.ErrTokenExpired):
		return "expired"
	case errors.Is(err, session.ErrTokenBadSignature):
		return "bad_signature"
	case errors.Is(err, session.ErrTokenMalformed):
		return "malformed"
	default:
		return "unknown_subject"
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, security.EventRegister, security.OutcomeRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == nil || req.Password == nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", "missing_fields")
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	user, token, err := s.app.Register(*req.Username, *req.Password)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, security.EventLogin, security.OutcomeRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == nil || req.Password == nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", "missing_fields")
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	user, token, err := s.app.Login(*req.Username, *req.Password)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleUser serves /user/{username} and /user/{username}/history.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	segments, ok := pathSegments(r, "/api/user/", "/user/")
	if !ok || len(segments) == 0 || len(segments) > 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	username := segments[0]
	if len(segments) == 2 {
		if segments[1] != "history" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleHistory(w, r, username)
		return
	}
	profile, err := s.app.Profile(r.Context(), username)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, username string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	items, err := s.app.History(username, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

func (s *Server) handleAppendHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req historyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Filename == nil || req.EcoPointsEarned == nil || req.ItemsRecycled == nil || req.CarbonSavedKg == nil {
		writeError(w, http.StatusBadRequest, "filename, eco_points_earned, items_recycled and carbon_saved_kg are required")
		return
	}
	id, err := s.app.RecordHistory(user, app.HistoryInput{
		Filename:        *req.Filename,
		EcoPointsEarned: *req.EcoPointsEarned,
		ItemsRecycled:   *req.ItemsRecycled,
		CarbonSavedKg:   *req.CarbonSavedKg,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"insertedId": id})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	board, err := s.app.Leaderboard(limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	totals, err := s.app.Stats(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.detectLimiter, "too many uploads") {
		s.audit(r, security.EventDetect, security.OutcomeRateLimited, "user_id", user.ID)
		return
	}
	// Allow some room for multipart framing around the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+maxJSONBodyBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image file provided (field: image)")
		return
	}
	defer file.Close()
	res, err := s.app.Detect(r.Context(), user, app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		s.audit(r, security.EventDetect, security.OutcomeFail, "user_id", user.ID, "reason", failureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalysisHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	health, err := s.app.AnalysisHealth(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleCenters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	centers, err := s.app.Centers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"centers": centers})
}

func (s *Server) handleDirections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/get-directions/")
	if !ok {
		writeError(w, http.StatusNotFound, "center not found")
		return
	}
	dir, err := s.app.Directions(id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "center not found")
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	page, err := s.app.AdminListUsers(domain.UserQuery{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r, "/admin/user/")
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	detail, err := s.app.AdminUserDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleExportUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ExportUsers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	body := encodeUsersCSV(users)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type credentialsRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type historyRequest struct {
	Filename        *string  `json:"filename"`
	EcoPointsEarned *int64   `json:"eco_points_earned"`
	ItemsRecycled   *int64   `json:"items_recycled"`
	CarbonSavedKg   *float64 `json:"carbon_saved_kg"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// decodeJSON decodes exactly one JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		case errors.As(err, &typeErr):
			return fmt.Errorf("field %q has the wrong type", typeErr.Field)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return errors.New(strings.TrimPrefix(err.Error(), "json: "))
		default:
			return errors.New("invalid JSON body")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < len("Bearer ") || !strings.EqualFold(authHeader[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len("Bearer "):])
	if token == "" {
		return "", false
	}
	return token, true
}

// pathSegments strips the first matching prefix and splits the escaped
// remainder on "/", unescaping each segment.
func pathSegments(r *http.Request, prefixes ...string) ([]string, bool) {
	escaped := r.URL.EscapedPath()
	for _, prefix := range prefixes {
		if !strings.HasPrefix(escaped, prefix) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(escaped, prefix), "/")
		if rest == "" {
			return nil, true
		}
		parts := strings.Split(rest, "/")
		for i, part := range parts {
			v, err := url.PathUnescape(part)
			if err != nil {
				return nil, false
			}
			parts[i] = v
		}
		return parts, true
	}
	return nil, false
}

func pathID(r *http.Request, prefix string) (int64, bool) {
	segments, ok := pathSegments(r, prefix)
	if !ok || len(segments) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter; absent is 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors onto status codes. Causes of
// server-side failures are logged, never returned.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, app.ErrAnalysisUnavailable):
		logger.Warn("analysis service call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "analysis service unavailable")
	default:
		logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, app.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, app.ErrConflict):
		return "duplicate_username"
	case errors.Is(err, app.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, app.ErrAnalysisUnavailable):
		return "analysis_unavailable"
	default:
		return "internal"
	}
}

// audit logs a security event and feeds the burst alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logger := util.LoggerFromContext(r.Context())
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"window", result.Window.String(),
		)
	}
}

// allowRate applies a limiter keyed by path and client IP. A nil limiter
// means rate limiting is not configured.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(util.RateKey(r.URL.Path, r, s.trusted)) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}
