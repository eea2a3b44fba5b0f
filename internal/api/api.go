// Package api exposes the scheduler over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindd/internal/reminder"
	"remindd/internal/runtime/supervisor"
	logx "remindd/pkg/logx"
)

// Scheduler is the part of *reminder.Scheduler the API needs.
type Scheduler interface {
	Schedule(ev reminder.Event, phone string) bool
	Snapshot() []reminder.Stored
}

type Deps struct {
	Scheduler Scheduler
	Notifier  reminder.Notifier
	Location  *time.Location
	Gatherer  prometheus.Gatherer
	// Health returns nil while the daemon is healthy.
	Health func() error
	// Tasks lists the supervised goroutines for /healthz.
	Tasks        func() []supervisor.TaskState
	AllowOrigins []string
	Pprof        bool
	Log          logx.Logger
}

type handlers struct {
	deps Deps
	log  logx.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	h := &handlers{deps: d, log: d.Log.With(logx.String("comp", "api"))}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	r.Use(cors.New(corsConfig(d.AllowOrigins)))

	r.GET("/healthz", h.health)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	if d.Pprof {
		mountPprof(r)
	}

	api := r.Group("/api")
	{
		reminders := api.Group("/reminders")
		{
			reminders.POST("", h.scheduleReminder)
			reminders.GET("", h.listReminders)
		}
		// Immediate send, used by front-ends that schedule on their own.
		api.POST("/reminder", h.sendReminder)
	}
	return r
}

// mountPprof exposes the runtime profiles. The API has no auth, so only
// enable this on a private listener.
func mountPprof(r *gin.Engine) {
	pp := r.Group("/debug/pprof")
	pp.GET("/", gin.WrapF(hpprof.Index))
	pp.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	pp.GET("/profile", gin.WrapF(hpprof.Profile))
	pp.GET("/symbol", gin.WrapF(hpprof.Symbol))
	pp.POST("/symbol", gin.WrapF(hpprof.Symbol))
	pp.GET("/trace", gin.WrapF(hpprof.Trace))
	// Index serves named profiles (heap, goroutine, ...) from the path.
	pp.GET("/:name", gin.WrapF(hpprof.Index))
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (h *handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", took),
		}
		if took > 200*time.Millisecond {
			h.log.Info("slow request", fields...)
			return
		}
		h.log.Debug("request", fields...)
	}
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.deps.Tasks != nil {
		body["tasks"] = h.deps.Tasks()
	}
	if h.deps.Health != nil {
		if err := h.deps.Health(); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// Server runs the router on an http.Server until its context ends.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             logx.Logger
}

func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, log logx.Logger) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log.With(logx.String("comp", "http")),
	}
}

func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	s.log.Info("http stopped")
	return nil
}
