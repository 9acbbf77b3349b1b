// Package collector is a small HTTP service that accepts the temperature
// POSTs of the daemon. It is meant for development and bench setups.
package collector

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Payload is the body posted by the daemon.
type Payload struct {
	Temperature []float32 `json:"temperature" binding:"required"`
}

// Sample is one stored POST.
type Sample struct {
	Received    time.Time `json:"received"`
	Remote      string    `json:"remote"`
	Temperature []float32 `json:"temperature"`
}

type ApiResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Store keeps the most recent samples in memory.
type Store struct {
	mu      sync.Mutex
	samples []Sample
	limit   int
	total   uint64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{limit: limit}
}

func (s *Store) Add(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sm)
	if len(s.samples) > s.limit {
		s.samples = s.samples[len(s.samples)-s.limit:]
	}
	s.total++
}

// Recent returns a copy of the stored samples, oldest first.
func (s *Store) Recent() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *Store) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

type Server struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(store *Store, logger *slog.Logger) *Server {
	return &Server{store: store, logger: logger, now: time.Now}
}

// SetupRoutes registers POST and GET on path.
func (s *Server) SetupRoutes(r *gin.Engine, path string) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	r.POST(path, s.handlePost)
	r.GET(path, s.handleList)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, ApiResponse{Status: "success", Data: gin.H{"received": s.store.Total()}})
	})
}

// NewRouter returns a gin engine serving the collector on path.
func NewRouter(s *Server, path string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.SetupRoutes(r, path)
	return r
}

func (s *Server) handlePost(c *gin.Context) {
	var p Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		s.logger.Warn("rejected payload", "remote", c.ClientIP(), "error", err)
		c.JSON(http.StatusBadRequest, ApiResponse{Status: "error", Error: err.Error()})
		return
	}
	sm := Sample{Received: s.now(), Remote: c.ClientIP(), Temperature: p.Temperature}
	s.store.Add(sm)
	s.logger.Info("temperatures", "remote", sm.Remote, "values", p.Temperature)
	c.JSON(http.StatusOK, ApiResponse{Status: "success"})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, ApiResponse{Status: "success", Data: s.store.Recent()})
}
