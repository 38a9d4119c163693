// Package status serves a read-only HTTP view of backup records, the run log
// and the schedule.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/scheduler"
)

// Reader is the part of the record store the server needs.
type Reader interface {
	FindRecord(ctx context.Context, id string) (*backup.Record, error)
	ListRecords(ctx context.Context, filter backup.RecordFilter) ([]backup.Record, error)
	ListRuns(ctx context.Context, limit int) ([]backup.RunEntry, error)
}

type JobLister interface {
	Jobs() []scheduler.JobInfo
}

type Server struct {
	store  Reader
	jobs   JobLister
	router *gin.Engine
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds the router. jobs may be nil when nothing is scheduled.
func NewServer(addr string, store Reader, jobs JobLister, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:  store,
		jobs:   jobs,
		router: gin.New(),
		logger: logger.With().Str("component", "status").Logger(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/records", s.handleListRecords)
	s.router.GET("/records/:id", s.handleGetRecord)
	s.router.GET("/runs", s.handleListRuns)
	s.router.GET("/jobs", s.handleListJobs)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in its own routine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
