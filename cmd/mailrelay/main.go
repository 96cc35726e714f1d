package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MailStatus is the relay's verdict on a send request.
type MailStatus string

const (
	StatusQueued   MailStatus = "QUEUED"
	StatusRejected MailStatus = "REJECTED"
)

type SendMailRequest struct {
	MailID   string            `json:"mail_id"`
	From     string            `json:"from"`
	To       string            `json:"to" binding:"required"`
	Subject  string            `json:"subject" binding:"required"`
	Template string            `json:"template" binding:"required"`
	Context  map[string]string `json:"context"`
}

type SendMailResponse struct {
	MailID      string     `json:"mail_id"`
	Status      MailStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
	RelayID     string     `json:"relay_id"`
	ProcessedAt time.Time  `json:"processed_at"`
}

type HealthResponse struct {
	Status     string    `json:"status"`
	RelayID    string    `json:"relay_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
	Outbox     int       `json:"outbox"`
}

// MockRelay accepts mails and keeps the last ones in memory so a local
// run can inspect what the worker rendered.
type MockRelay struct {
	mu         sync.Mutex
	acceptRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	relayID    string
	rng        *rand.Rand
	outbox     []SendMailRequest
	outboxSize int
}

func NewMockRelay(acceptRate float64, minDelay, maxDelay time.Duration) *MockRelay {
	return &MockRelay{
		acceptRate: acceptRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		relayID:    "MOCK_RELAY_" + uuid.New().String()[:8],
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		outboxSize: 100,
	}
}

func (m *MockRelay) accept(req *SendMailRequest) *SendMailResponse {
	time.Sleep(m.randomDelay())

	if req.MailID == "" {
		req.MailID = uuid.NewString()
	}
	response := &SendMailResponse{
		MailID:      req.MailID,
		RelayID:     m.relayID,
		ProcessedAt: time.Now(),
	}

	if !m.shouldAccept() {
		response.Status = StatusRejected
		response.ErrorCode = "MAILBOX_UNAVAILABLE"
		response.ErrorMsg = "The recipient mailbox is temporarily unavailable"

		log.Warn().
			Str("mail_id", req.MailID).
			Str("to", req.To).
			Str("error_code", response.ErrorCode).
			Msg("mail rejected")
		return response
	}

	m.mu.Lock()
	m.outbox = append(m.outbox, *req)
	if len(m.outbox) > m.outboxSize {
		m.outbox = m.outbox[len(m.outbox)-m.outboxSize:]
	}
	m.mu.Unlock()

	response.Status = StatusQueued
	log.Info().
		Str("mail_id", req.MailID).
		Str("to", req.To).
		Str("subject", req.Subject).
		Str("template", req.Template).
		Interface("context", req.Context).
		Msg("mail queued")
	return response
}

func (m *MockRelay) Outbox() []SendMailRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendMailRequest, len(m.outbox))
	copy(out, m.outbox)
	return out
}

func (m *MockRelay) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockRelay) shouldAccept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.acceptRate
}

type Handler struct {
	relay *MockRelay
}

func NewHandler(relay *MockRelay) *Handler {
	return &Handler{relay: relay}
}

func (h *Handler) SendMail(c *gin.Context) {
	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.relay.accept(&req))
}

func (h *Handler) ListOutbox(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.relay.Outbox()})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		RelayID:    h.relay.relayID,
		Timestamp:  time.Now(),
		AcceptRate: h.relay.acceptRate,
		Outbox:     len(h.relay.Outbox()),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/mail/send", handler.SendMail)
		v1.GET("/mail/outbox", handler.ListOutbox)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8025")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 10*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 200*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("starting mock mail relay")

	handler := NewHandler(NewMockRelay(acceptRate, minDelay, maxDelay))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
