package server

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/patrickmn/go-cache"

	"storyloom/pkg/logging"
	"storyloom/pkg/queue"
	"storyloom/pkg/schema"
	"storyloom/pkg/store"
)

// RunQueue is the worker the API submits to.
type RunQueue interface {
	queue.Queue
	Active() []*queue.Run
}

// RunLedger reads persisted run state. *store.Runs satisfies it.
type RunLedger interface {
	Get(ctx context.Context, id string) (*store.Run, error)
	List(ctx context.Context, limit int) ([]store.Run, error)
}

// StoryReader reads persisted story records. *store.Stories satisfies it.
type StoryReader interface {
	List() ([]schema.Story, error)
	Get(id string) (schema.Story, bool, error)
}

type Options struct {
	Queue     RunQueue
	Ledger    RunLedger
	Stories   StoryReader
	ExportDir string
	Logger    *log.Logger

	// SegmentDir bounds the segment paths clients may submit and export.
	SegmentDir string
}

type Server struct {
	Echo       *echo.Echo
	Queue      RunQueue
	Ledger     RunLedger
	Stories    StoryReader
	ExportDir  string
	SegmentDir string

	logger *log.Logger
	// finished run views by run id
	snapshots *cache.Cache
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:       e,
		Queue:      opts.Queue,
		Ledger:     opts.Ledger,
		Stories:    opts.Stories,
		ExportDir:  opts.ExportDir,
		SegmentDir: opts.SegmentDir,
		logger:     logging.Or(opts.Logger).WithPrefix("server"),
		snapshots:  cache.New(10*time.Minute, 20*time.Minute),
	}
	e.Logger.SetLevel(gommonLevel(s.logger.GetLevel()))

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/", s.handleGetRoot)

	api := s.Echo.Group("/api")
	api.POST("/runs", s.handlePostRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/runs/:id/events", s.handleRunEvents) // SSE
	api.DELETE("/runs/:id", s.handleCancelRun)

	api.GET("/stories", s.handleListStories)
	api.GET("/stories/:id", s.handleGetStory)
	api.GET("/stories/:id/export", s.handleExportStory)
}

func (s *Server) Start(addr string) error {
	s.logger.Info("server listening", "addr", addr)
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.Echo.Shutdown(ctx)
}

func gommonLevel(l log.Level) glog.Lvl {
	switch {
	case l <= log.DebugLevel:
		return glog.DEBUG
	case l == log.InfoLevel:
		return glog.INFO
	case l == log.WarnLevel:
		return glog.WARN
	case l == log.ErrorLevel:
		return glog.ERROR
	}
	return glog.OFF
}
