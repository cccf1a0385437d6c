// Package api exposes the read-only HTTP surface: engine status, signals,
// positions, portfolios, learning state and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/bot"
	"mexc-futures-engine/internal/correlation"
	"mexc-futures-engine/internal/database"
)

// Server hosts the gin router over the shared engine state.
type Server struct {
	cfg   config.ServerConfig
	db    *database.DB
	bots  map[string]*bot.Bot
	corr  *correlation.Tracker
	log   zerolog.Logger
	srv   *http.Server
	start time.Time
}

func NewServer(cfg config.ServerConfig, db *database.DB, bots map[string]*bot.Bot, corr *correlation.Tracker, log zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		db:    db,
		bots:  bots,
		corr:  corr,
		log:   log.With().Str("component", "api").Logger(),
		start: time.Now(),
	}
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.DefaultConfig()
	if s.cfg.AllowedOrigins == "" || s.cfg.AllowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	s.routes(router)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/signals", s.handleSignals)
		api.GET("/positions", s.handlePositions)
		api.GET("/portfolio/:bot", s.handlePortfolio)
		api.GET("/setups/:bot", s.handleSetups)
		api.GET("/learning/:bot", s.handleLearning)
		api.GET("/learning/:bot/decay", s.handleLearningDecay)
		api.GET("/learning/:bot/calibration", s.handleCalibration)
		api.POST("/learning/:bot/recompute", s.handleLearningRecompute)
		api.GET("/correlation", s.handleCorrelation)
		api.GET("/breaker/:bot", s.handleBreaker)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(began)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	bots := make(map[string]gin.H, len(s.bots))
	for name, b := range s.bots {
		bots[name] = gin.H{
			"symbols":        b.Cfg.EnabledSymbols(),
			"open_positions": b.Monitor.OpenCount(),
			"breaker_state":  string(b.Breaker.State()),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int(time.Since(s.start).Seconds()),
		"bots":           bots,
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.RecentSignals(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": rows})
}

func (s *Server) handlePositions(c *gin.Context) {
	out := gin.H{}
	for name, b := range s.bots {
		out[name] = b.Monitor.Open()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePortfolio(c *gin.Context) {
	b, ok := s.botFor(c)
	if !ok {
		return
	}
	p, err := s.db.GetPaperPortfolio(c.Request.Context(), b.Cfg.Version)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio":      p,
		"free_balance":   p.FreeBalance(),
		"win_rate":       p.WinRate(),
		"open_positions": b.Monitor.OpenCount(),
	})
}

func (s *Server) handleSetups(c *gin.Context) {
	b, ok := s.botFor(c)
	if !ok {
		return
	}
	rows, err := b.Setups.Performance(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setups": rows})
}

func (s *Server) handleLearning(c *gin.Context) {
	b, ok := s.adaptiveBotFor(c)
	if !ok {
		return
	}
	rows, err := b.Adaptive.Weights(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"weights": rows})
}

func (s *Server) handleLearningDecay(c *gin.Context) {
	b, ok := s.adaptiveBotFor(c)
	if !ok {
		return
	}
	rows, err := b.Adaptive.DecayedEdges(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decayed": rows})
}

func (s *Server) handleCalibration(c *gin.Context) {
	b, ok := s.adaptiveBotFor(c)
	if !ok {
		return
	}
	buckets, err := b.Adaptive.Calibration(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": buckets})
}

func (s *Server) handleLearningRecompute(c *gin.Context) {
	b, ok := s.adaptiveBotFor(c)
	if !ok {
		return
	}
	if err := b.Adaptive.Recompute(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recomputed"})
}

func (s *Server) handleCorrelation(c *gin.Context) {
	symbols := map[string]bool{}
	for _, b := range s.bots {
		for _, sym := range b.Cfg.EnabledSymbols() {
			symbols[sym] = true
		}
	}
	var list []string
	for sym := range symbols {
		list = append(list, sym)
	}
	c.JSON(http.StatusOK, gin.H{
		"clusters": correlation.DefaultClusters,
		"matrix":   s.corr.Matrix(list),
	})
}

func (s *Server) handleBreaker(c *gin.Context) {
	b, ok := s.botFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b.Breaker.Stats())
}

func (s *Server) botFor(c *gin.Context) (*bot.Bot, bool) {
	name := c.Param("bot")
	b, ok := s.bots[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot " + name})
		return nil, false
	}
	return b, true
}

func (s *Server) adaptiveBotFor(c *gin.Context) (*bot.Bot, bool) {
	b, ok := s.botFor(c)
	if !ok {
		return nil, false
	}
	if b.Adaptive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot " + b.Cfg.Version + " has no adaptive learner"})
		return nil, false
	}
	return b, true
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("handler error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
