// Package api serves the loopback HTTP API used by the form UI.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/outbox"
	"github.com/yangwenmai/fieldbox/internal/store"
	"github.com/yangwenmai/fieldbox/internal/worker"
)

// maxRequestBody is the maximum allowed request body size (16 MB, photos
// travel base64 encoded).
const maxRequestBody int64 = 16 << 20

// Submitter is the submit facade as seen by the API.
type Submitter interface {
	SubmitNow(ctx context.Context, s *model.Submission, cb outbox.Callbacks) (outbox.Result, error)
	Flush(ctx context.Context) (worker.Report, bool)
}

// StateReporter reports the sync engine state.
type StateReporter interface {
	State() worker.State
}

// Setter is a connectivity signal that can be set from outside.
type Setter interface {
	Set(online bool) bool
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	outbox     Submitter
	store      store.OutboxReader
	engine     StateReporter
	signal     connectivity.Signal
	assets     http.Handler
	origins    []string
	appVersion string
	logger     logrus.FieldLogger
	validate   *validator.Validate
	router     *gin.Engine
}

// Option configures the Server.
type Option func(*Server)

// WithAssets serves unmatched paths from h (the offline asset cache).
func WithAssets(h http.Handler) Option {
	return func(s *Server) { s.assets = h }
}

// WithCORSOrigins sets the allowed origins ("*" allows all).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithAppVersion sets the version stamped on submissions without one.
func WithAppVersion(v string) Option {
	return func(s *Server) { s.appVersion = v }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server.
func New(ob Submitter, reader store.OutboxReader, engine StateReporter, signal connectivity.Signal, opts ...Option) *Server {
	s := &Server{
		outbox:   ob,
		store:    reader,
		engine:   engine,
		signal:   signal,
		origins:  []string{"*"},
		logger:   logrus.StandardLogger(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), limitBody(), cors.New(s.corsConfig()))

	api := r.Group("/api")
	api.POST("/submissions", s.handleSubmit)
	api.GET("/outbox", s.handleListOutbox)
	api.GET("/outbox/:id", s.handleGetOutboxItem)
	api.POST("/outbox/flush", s.handleFlush)
	api.GET("/status", s.handleStatus)
	api.PUT("/connectivity", s.handleSetConnectivity)

	r.NoRoute(s.handleNoRoute)
	s.router = r
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(s.origins) == 0 || (len(s.origins) == 1 && s.origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type")
	return cfg
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			return
		}
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("api request")
	}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	if ves, ok := err.(validator.ValidationErrors); ok {
		for _, ve := range ves {
			out[ve.Field()] = ve.Tag()
		}
	}
	return out
}
