package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"azeuqer/internal/auth"
	"azeuqer/internal/config"
	"azeuqer/internal/game"
	"azeuqer/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusOK    = "ok"
	statusError = "ERROR"

	maxJSONBody = 1 << 20
)

var initDataHeaders = []string{"X-Telegram-Init-Data", "X-Telegram-InitData"}

var errRateLimited = errors.New("rate limit exceeded")

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	auth     *auth.Verifier
	game     *game.Service
	limiter  ratelimit.Limiter
	mediaDir string
	tracer   trace.Tracer
	mux      *chi.Mux
}

// New builds the HTTP surface. A nil limiter disables rate limiting and an
// empty mediaDir disables /media/.
func New(cfg config.APIConfig, logger *slog.Logger, verifier *auth.Verifier, gameSvc *game.Service, limiter ratelimit.Limiter, mediaDir string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		auth:     verifier,
		game:     gameSvc,
		limiter:  limiter,
		mediaDir: mediaDir,
		tracer:   otel.Tracer("azeuqer/internal/api"),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.traceRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: append([]string{"Content-Type", "X-Request-Id"}, initDataHeaders...),
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(timeout))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "version": s.cfg.Version})
	})
	r.Get("/healthz", s.handleHealth)
	if s.mediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir))))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/biolock", s.handleBioLock)
	})

	r.Route("/game", func(r chi.Router) {
		r.Post("/feed", s.handleFeed)
		r.Post("/swipe", s.handleSwipe)
		r.Post("/leaderboard", s.handleLeaderboard)
		r.Post("/hall", s.handleHallOfFame)
		r.Post("/sponsor/equip", s.handleSponsorEquip)
		r.Post("/foundation/donate", s.handleDonate)
		r.Post("/combat/info", s.handleCombatInfo)
		r.Post("/combat/turn", s.handleCombatTurn)
		r.Post("/tribunal/case", s.handleTribunalCase)
		r.Post("/tribunal/vote", s.handleTribunalVote)
	})
}

func (s *Server) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// identify verifies launch data taken from the body field or, failing that,
// from the init-data header, then charges the caller's rate limit bucket.
func (s *Server) identify(r *http.Request, bodyInitData string) (game.Identity, error) {
	initData := strings.TrimSpace(bodyInitData)
	if initData == "" {
		for _, h := range initDataHeaders {
			if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
				initData = v
				break
			}
		}
	}
	id, err := s.auth.Verify(initData)
	if err != nil {
		return game.Identity{}, err
	}
	if s.limiter != nil {
		key := fmt.Sprintf("%d:%s", id.UserID, clientIP(r))
		ok, err := s.limiter.Allow(r.Context(), key, time.Now())
		if err != nil {
			s.log.Warn("rate limiter unavailable", "key", key, "err", err)
		} else if !ok {
			return game.Identity{}, errRateLimited
		}
	}
	return id, nil
}

// authenticated decodes a JSON body into in and resolves the caller. An empty
// body is allowed when the launch data travels in a header. On failure the
// response is already written.
func (s *Server) authenticated(w http.ResponseWriter, r *http.Request, in interface{ initData() string }) (game.Identity, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := decodeJSON(r, in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return game.Identity{}, false
	}
	id, err := s.identify(r, in.initData())
	if err != nil {
		writeDomainError(w, err)
		return game.Identity{}, false
	}
	return id, true
}

type launchData struct {
	InitData string `json:"initData"`
}

func (l launchData) initData() string { return l.InitData }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.game.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		Traits *game.TraitsInput `json:"traits"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	user, created, err := s.game.Login(r.Context(), id, in.Traits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := statusOK
	if created {
		status = "created"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "user": user})
}

func (s *Server) handleBioLock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, game.MaxPhotoBytes+maxJSONBody)
	if err := r.ParseMultipartForm(game.MaxPhotoBytes); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	id, err := s.identify(r, r.FormValue("initData"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file is required")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, game.MaxPhotoBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("read file: %v", err))
		return
	}

	out, err := s.game.SubmitBioLock(r.Context(), id.UserID, image)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"url":           out.User.BioLockURL,
		"referral_paid": out.ReferralPaid,
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		Limit int `json:"limit"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	cards, err := s.game.FeedCards(r.Context(), id.UserID, in.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "feed": cards})
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		TargetID  int64  `json:"target_id"`
		Direction string `json:"direction"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	direction, err := game.ParseDirection(in.Direction)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.Swipe(r.Context(), id.UserID, in.TargetID, direction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var in launchData
	if _, ok := s.authenticated(w, r, &in); !ok {
		return
	}
	board, err := s.game.Leaderboard(r.Context(), game.DefaultBoardLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "board": board})
}

func (s *Server) handleHallOfFame(w http.ResponseWriter, r *http.Request) {
	var in launchData
	if _, ok := s.authenticated(w, r, &in); !ok {
		return
	}
	hall, err := s.game.HallOfFame(r.Context(), game.DefaultHallLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "hall": hall})
}

func (s *Server) handleSponsorEquip(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		SponsorLogo string `json:"sponsor_logo"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	if err := s.game.EquipSponsor(r.Context(), id.UserID, in.SponsorLogo); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "EQUIPPED"})
}

func (s *Server) handleDonate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		Amount int64 `json:"amount"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	out, err := s.game.Donate(r.Context(), id.UserID, in.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "DONATED", "ap": out.AP, "pool": out.Pool})
}

func (s *Server) handleCombatInfo(w http.ResponseWriter, r *http.Request) {
	var in launchData
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	boss, err := s.game.CombatInfo(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "boss": boss})
}

func (s *Server) handleCombatTurn(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		Action        string `json:"action"`
		BossHPCurrent int    `json:"boss_hp_current"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	out, err := s.game.CombatTurn(r.Context(), id.UserID, in.Action, in.BossHPCurrent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTribunalCase(w http.ResponseWriter, r *http.Request) {
	var in launchData
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	card, err := s.game.TribunalCase(r.Context(), id.UserID)
	if errors.Is(err, game.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "EMPTY"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "CASE_FOUND", "case": card})
}

func (s *Server) handleTribunalVote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		launchData
		TargetID int64  `json:"target_id"`
		Vote     string `json:"vote"`
	}
	id, ok := s.authenticated(w, r, &in)
	if !ok {
		return
	}
	out, err := s.game.TribunalVote(r.Context(), id.UserID, in.TargetID, in.Vote)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "VOTED", "verified": out.Verified, "tally": out.Tally})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errorCode(err) == "" {
		s.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	writeDomainError(w, err)
}

// errorCode names the game-level failures reported to the client as
// status ERROR; an empty code means the failure is unexpected.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNoFaceDetected):
		return "NO_FACE_DETECTED"
	case errors.Is(err, game.ErrInsufficientBalance):
		return "INSUFFICIENT_AP"
	case errors.Is(err, game.ErrAlreadySwiped):
		return "ALREADY_SWIPED"
	case errors.Is(err, game.ErrAlreadyVoted):
		return "ALREADY_VOTED"
	case errors.Is(err, game.ErrCombatLocked):
		return "COMBAT_LOCKED"
	case errors.Is(err, game.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, game.ErrValidation):
		return "INVALID_INPUT"
	}
	return ""
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAuthInvalid):
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID", err.Error())
	case errors.Is(err, errRateLimited):
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	case errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, "TX_CONFLICT", "the request collided with another one, retry")
	case errors.Is(err, game.ErrValidation):
		writeError(w, http.StatusBadRequest, errorCode(err), err.Error())
	case errorCode(err) != "":
		writeError(w, http.StatusOK, errorCode(err), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"status":  statusError,
		"error":   code,
		"message": strings.TrimSpace(message),
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
