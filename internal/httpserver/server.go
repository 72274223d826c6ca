package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/logtap/internal/capture"
)

// Overview is the narrow status contract required by the HTTP API.
type Overview interface {
	// Latest returns the most recent completed cycle report, if any cycle
	// has completed yet.
	Latest() (capture.Report, bool)

	// Workers lists every registered capture worker.
	Workers() []WorkerInfo
}

// WorkerInfo is the API view of one capture worker.
type WorkerInfo struct {
	WorkerName string `json:"worker_name"`
	SourceName string `json:"source_name"`
	Live       bool   `json:"live"`
}

// Server provides the read-only HTTP status API for the capture daemon.
type Server struct {
	addr      string
	overview  Overview
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP status server.
func NewServer(addr string, overview Overview) *Server {
	if addr == "" {
		addr = "127.0.0.1:8127"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		overview: overview,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/workers", s.handleWorkers)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"workers": len(s.overview.Workers()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	report, ok := s.overview.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleWorkers(c *gin.Context) {
	workers := s.overview.Workers()
	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"count":   len(workers),
	})
}
