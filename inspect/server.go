// Package inspect exposes a running looper.Scheduler over HTTP: queue
// snapshots, metrics, message and barrier control, and a websocket stream of
// scheduler events.
package inspect

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/julywind168/looper"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const observerName = "inspect"

// maxDelayMs is the largest delay_ms that still fits a time.Duration.
const maxDelayMs = math.MaxInt64 / int64(time.Millisecond)

type Server struct {
	sched     *looper.Scheduler
	e         *echo.Echo
	gate      *gate
	logger    looper.Logger
	secret    string
	rateLimit float64
	replay    int
}

type Option func(*Server)

// WithAuthSecret requires an HS256 bearer token signed with secret on every
// mutating route.
func WithAuthSecret(secret string) Option { return func(s *Server) { s.secret = secret } }

// WithRateLimit caps requests per second per client IP. Zero disables it.
func WithRateLimit(perSecond float64) Option { return func(s *Server) { s.rateLimit = perSecond } }

// WithReplaySize sets how many recent events new websocket clients receive.
func WithReplaySize(n int) Option { return func(s *Server) { s.replay = n } }

func WithLogger(l looper.Logger) Option { return func(s *Server) { s.logger = l } }

func New(sched *looper.Scheduler, opts ...Option) *Server {
	s := &Server{
		sched:  sched,
		replay: defaultReplaySize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.replay < 0 {
		s.replay = 0
	}
	s.gate = newGate(s.replay, s.logger)

	if err := sched.Subscribe(looper.EventAny, observerName, looper.ObserverFunc(s.onEvent), nil); err != nil {
		s.logger.Errorf("inspect: subscribe to scheduler events: %v", err)
	}

	s.e = echo.New()
	s.e.HideBanner = true
	s.e.HidePort = true
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Infof("inspect: %s %s %d %v", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	if s.rateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(s.rateLimit))))
	}

	e.GET("/queue", s.handleQueue)
	e.GET("/metrics", s.handleMetrics)
	e.GET("/ws", s.handleWs)

	guard := []echo.MiddlewareFunc{s.requireOpen, requireToken(s.secret)}
	e.POST("/messages", s.handleEnqueue, guard...)
	e.DELETE("/messages/:id", s.handleRemove, guard...)
	e.POST("/barriers", s.handlePostBarrier, guard...)
	e.DELETE("/barriers/:token", s.handleRemoveBarrier, guard...)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Infof("inspect: listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients, stops the HTTP server and detaches
// from the scheduler. The scheduler itself keeps running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sched.Unsubscribe(looper.EventAny, observerName)
	s.gate.closeAll()
	return s.e.Shutdown(ctx)
}

// Clients reports the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.gate.count()
}

func (s *Server) onEvent(ev looper.Event) {
	f := Frame{
		Kind:     ev.Kind.String(),
		At:       ev.At,
		Duration: ev.Duration,
		Dropped:  ev.Dropped,
	}
	if ev.Kind != looper.EventStopped {
		entry := s.sched.Describe(ev.Message)
		f.Entry = &entry
	}
	if ev.Err != nil {
		f.Error = ev.Err.Error()
	}
	s.gate.broadcast(f)
}

// ============================================================================
// Handlers
// ============================================================================

type enqueueRequest struct {
	Payload any   `json:"payload"`
	DelayMs int64 `json:"delay_ms"`
	Async   bool  `json:"async"`
}

type enqueueResponse struct {
	ID uint64 `json:"id"`
}

type barrierResponse struct {
	Token looper.Token `json:"token"`
}

func (s *Server) requireOpen(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.sched.State() == looper.StateStopped {
			return echo.NewHTTPError(http.StatusServiceUnavailable, looper.ErrClosed.Error())
		}
		return next(c)
	}
}

func (s *Server) handleQueue(c echo.Context) error {
	entries := s.sched.Snapshot()
	if entries == nil {
		entries = []looper.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleMetrics(c echo.Context) error {
	details := c.QueryParam("details") != "false"
	return c.JSON(http.StatusOK, s.sched.GetMetrics(details))
}

func (s *Server) handleEnqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DelayMs > maxDelayMs || req.DelayMs < -maxDelayMs {
		return echo.NewHTTPError(http.StatusBadRequest, "delay_ms out of range")
	}
	id, err := s.sched.Enqueue(req.Payload, time.Duration(req.DelayMs)*time.Millisecond, req.Async)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, enqueueResponse{ID: id})
}

func (s *Server) handleRemove(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	if !s.sched.Remove(id) {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePostBarrier(c echo.Context) error {
	token, err := s.sched.PostBarrier()
	if err != nil {
		return toHTTPError(err)
	}
	s.logger.Infof("inspect: %s posted barrier %d", subject(c), token)
	return c.JSON(http.StatusCreated, barrierResponse{Token: token})
}

func (s *Server) handleRemoveBarrier(c echo.Context) error {
	n, err := strconv.ParseUint(c.Param("token"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid barrier token")
	}
	if err := s.sched.RemoveBarrier(looper.Token(n)); err != nil {
		return toHTTPError(err)
	}
	s.logger.Infof("inspect: %s removed barrier %d", subject(c), n)
	return c.NoContent(http.StatusNoContent)
}

// handleWs streams events. ?after=N resumes after frame N.
func (s *Server) handleWs(c echo.Context) error {
	var after uint64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after")
		}
		after = n
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	peer := newWsPeer(ws, s.replay)
	s.gate.join(peer, after)
	go peer.writeLoop()

	// clients only listen; reading detects the close
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.gate.leave(peer)
			return nil
		}
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, looper.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, looper.ErrBarrierNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
