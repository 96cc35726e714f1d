package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableRelays = errors.New("no available mail relays")
	ErrMailRejected      = errors.New("mail rejected by relay")
)

const sendPath = "/api/v1/mail/send"

type SendStatus string

const (
	StatusQueued   SendStatus = "QUEUED"
	StatusRejected SendStatus = "REJECTED"
)

type SendRequest struct {
	MailID   string            `json:"mail_id"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Context  map[string]string `json:"context"`
}

type SendResponse struct {
	MailID      string     `json:"mail_id"`
	Status      SendStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
	RelayID     string     `json:"relay_id"`
	ProcessedAt time.Time  `json:"processed_at"`
}

type RelayMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64
}

func (m *RelayMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *RelayMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *RelayMetrics) AvgLatencyMs() int64 {
	total := m.SuccessfulReqs.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *RelayMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type RelayState int32

const (
	StateHealthy RelayState = iota
	StateUnhealthy
	StateCircuitOpen
)

func (s RelayState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Relay is one mail relay endpoint. Relays are tried in priority order.
type Relay struct {
	name             string
	url              string
	priority         int
	client           *fasthttp.Client
	metrics          *RelayMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewRelay(name, url string, priority int, client *fasthttp.Client) *Relay {
	r := &Relay{
		name:     name,
		url:      url,
		priority: priority,
		client:   client,
		metrics:  &RelayMetrics{},
	}
	r.state.Store(int32(StateHealthy))
	return r
}

func (r *Relay) Name() string {
	return r.name
}

func (r *Relay) GetState() RelayState {
	return RelayState(r.state.Load())
}

func (r *Relay) SetState(state RelayState) {
	r.state.Store(int32(state))
}

func (r *Relay) IsAvailable() bool {
	state := r.GetState()
	if state == StateCircuitOpen {
		if time.Now().UnixNano() > r.circuitOpenUntil.Load() {
			// half-open: let the next request probe the relay
			r.SetState(StateHealthy)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

type RelayConfig struct {
	Name     string
	URL      string
	Priority int // lower goes first
}

type Config struct {
	Relays                  []RelayConfig
	From                    string
	Timeout                 time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// Dial overrides how relay connections are opened.
	Dial fasthttp.DialFunc
}

// MailClient delivers mails through the first available relay and fails
// over to the next one. Retrying a failed mail is left to the queue.
type MailClient struct {
	config *Config
	relays []*Relay
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewMailClient(config *Config) (*MailClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Relays) == 0 {
		return nil, errors.New("at least one relay is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &MailClient{
		config: config,
		relays: make([]*Relay, 0, len(config.Relays)),
		stopCh: make(chan struct{}),
	}

	for _, rc := range config.Relays {
		if rc.URL == "" {
			continue
		}
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		}
		c.relays = append(c.relays, NewRelay(rc.Name, rc.URL, rc.Priority, httpClient))
		logger.Info("mail relay initialized", "name", rc.Name, "url", rc.URL, "priority", rc.Priority)
	}
	if len(c.relays) == 0 {
		return nil, errors.New("at least one relay url is required")
	}

	sort.SliceStable(c.relays, func(i, j int) bool { return c.relays[i].priority < c.relays[j].priority })

	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}

	return c, nil
}

// Send implements the mail transport used by the notification worker.
func (c *MailClient) Send(ctx context.Context, mail model.Mail) error {
	body, err := json.Marshal(SendRequest{
		MailID:   mailID(ctx),
		From:     c.config.From,
		To:       mail.To,
		Subject:  mail.Subject,
		Template: mail.Template,
		Context:  mail.Context,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}

	lastErr := ErrNoAvailableRelays
	for _, relay := range c.relays {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !relay.IsAvailable() {
			continue
		}

		start := time.Now()
		resp, err := c.send(ctx, relay, body)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			relay.metrics.RecordFailure()
			c.checkCircuitBreaker(relay)
			logger.Warn("mail relay failed, trying next", "relay", relay.name, "error", err)
			lastErr = err
			continue
		}

		relay.metrics.RecordSuccess(latency)
		logger.Info("mail accepted by relay", "relay", relay.name, "to", mail.To, "template", mail.Template, "latency_ms", latency, "relay_id", resp.RelayID)
		return nil
	}

	return fmt.Errorf("send mail: %w", lastErr)
}

func (c *MailClient) send(ctx context.Context, relay *Relay, body []byte) (*SendResponse, error) {
	raw, err := c.doRequest(ctx, relay, fasthttp.MethodPost, sendPath, body)
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Status == StatusRejected {
		return nil, fmt.Errorf("%w: %s %s", ErrMailRejected, resp.ErrorCode, resp.ErrorMsg)
	}
	return &resp, nil
}

func (c *MailClient) doRequest(ctx context.Context, relay *Relay, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(relay.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := relay.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (c *MailClient) checkCircuitBreaker(relay *Relay) {
	fails := relay.metrics.ConsecutiveFails.Load()
	if fails < int32(c.config.CircuitBreakerThreshold) {
		return
	}
	relay.SetState(StateCircuitOpen)
	relay.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).UnixNano())
	logger.Warn("mail relay circuit opened", "relay", relay.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
}

func (c *MailClient) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MailClient) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, relay := range c.relays {
		old := relay.GetState()
		if old == StateCircuitOpen {
			continue
		}

		next := StateUnhealthy
		if c.checkRelayHealth(ctx, relay) {
			next = StateHealthy
		}
		if next != old {
			relay.SetState(next)
			logger.Info("mail relay state changed", "relay", relay.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (c *MailClient) checkRelayHealth(ctx context.Context, relay *Relay) bool {
	raw, err := c.doRequest(ctx, relay, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

type RelayStats struct {
	Name             string
	URL              string
	State            string
	TotalRequests    int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	ConsecutiveFails int32
}

func (c *MailClient) GetRelayStats() []RelayStats {
	stats := make([]RelayStats, 0, len(c.relays))
	for _, relay := range c.relays {
		stats = append(stats, RelayStats{
			Name:             relay.name,
			URL:              relay.url,
			State:            relay.GetState().String(),
			TotalRequests:    relay.metrics.TotalRequests.Load(),
			FailedReqs:       relay.metrics.FailedReqs.Load(),
			SuccessRate:      relay.metrics.SuccessRate(),
			AvgLatencyMs:     relay.metrics.AvgLatencyMs(),
			ConsecutiveFails: relay.metrics.ConsecutiveFails.Load(),
		})
	}
	return stats
}

func (c *MailClient) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	logger.Info("mail client closed")
	return nil
}

type mailIDKey struct{}

// WithMailID tags the outgoing mail so relays can deduplicate redeliveries.
func WithMailID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, mailIDKey{}, id)
}

func mailID(ctx context.Context) string {
	id, _ := ctx.Value(mailIDKey{}).(string)
	return id
}
