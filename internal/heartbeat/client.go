// Package heartbeat implements the device-side registration loop. A device
// announces itself to the fleet controller on start and keeps its registry
// entry alive with periodic heartbeats; missing beats eventually get the
// device marked inactive and removed by the controller's sweeper.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors for heartbeat delivery.
var (
	// ErrUnreachable indicates the controller could not be reached after
	// all retry attempts.
	ErrUnreachable = errors.New("heartbeat: controller unreachable")

	// ErrRejected indicates the controller refused the registration.
	// Rejections are not retried; the request will not become valid by
	// sending it again.
	ErrRejected = errors.New("heartbeat: registration rejected")
)

// Health classifies the heartbeat loop's recent delivery history.
type Health string

// Health states, from best to worst.
const (
	HealthNeverSucceeded Health = "never_succeeded" // no heartbeat has succeeded yet
	HealthHealthy        Health = "healthy"         // last heartbeat succeeded
	HealthDegraded       Health = "degraded"        // failing, but a recent beat got through
	HealthUnhealthy      Health = "unhealthy"       // no successful beat for several intervals
)

// staleMultiplier is how many missed intervals move the client from
// degraded to unhealthy. Matches the controller marking a device inactive
// after a few missed beats.
const staleMultiplier = 3

// Config holds the identity the client announces and the delivery tuning.
type Config struct {
	// DeviceID is the unique identifier announced to the controller.
	DeviceID string

	// DeviceType selects the command set the controller will offer.
	DeviceType string

	// AdvertiseIP is the address the controller should dial back on.
	AdvertiseIP string

	// Port is the device's local API port.
	Port int

	// ControllerURL is the fleet controller base URL, e.g. http://192.168.4.1:5000.
	ControllerURL string

	// Interval between heartbeats. Default 30s.
	Interval time.Duration

	// RetryAttempts per heartbeat before giving up until the next tick.
	// Default 3.
	RetryAttempts int

	// RetryDelay between attempts. Default 5s.
	RetryDelay time.Duration
}

// Stats is a snapshot of the client's delivery counters.
type Stats struct {
	Sent        int       `json:"sent"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Client sends periodic heartbeats to the fleet controller.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.RWMutex
	sent        int
	succeeded   int
	failed      int
	lastSuccess time.Time
	lastErr     error

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewClient creates a heartbeat client. Zero tuning values take defaults;
// call Start to begin the loop.
func NewClient(cfg Config, logger Logger) *Client {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start begins the heartbeat loop. The first beat is sent immediately so
// the device appears in the registry without waiting a full interval.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop shuts the loop down and waits for any in-flight heartbeat to
// finish. Safe to call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

// BeatNow sends a single heartbeat outside the loop schedule. Useful
// after a significant local event, and for the initial announce when the
// loop is not running.
func (c *Client) BeatNow(ctx context.Context) error {
	return c.beat(ctx)
}

// Status classifies the loop's health from the delivery history.
func (c *Client) Status() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.lastSuccess.IsZero():
		return HealthNeverSucceeded
	case c.lastErr == nil:
		return HealthHealthy
	case time.Since(c.lastSuccess) <= staleMultiplier*c.cfg.Interval:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// Stats returns a snapshot of the delivery counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Sent:        c.sent,
		Succeeded:   c.succeeded,
		Failed:      c.failed,
		LastSuccess: c.lastSuccess,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	if err := c.beat(ctx); err != nil {
		c.logger.Warn("initial heartbeat failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.beat(ctx); err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// beat sends one heartbeat, retrying transient failures. A rejection
// (HTTP 4xx) aborts the retry loop immediately.
func (c *Client) beat(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		err := c.send(ctx)
		if err == nil {
			c.recordSuccess()
			if attempt > 1 {
				c.logger.Info("heartbeat delivered after retry", "attempt", attempt)
			}
			return nil
		}

		lastErr = err
		if errors.Is(err, ErrRejected) {
			break
		}

		if attempt < c.cfg.RetryAttempts {
			c.logger.Debug("heartbeat attempt failed, retrying",
				"attempt", attempt, "error", err)
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = c.cfg.RetryAttempts // stop retrying
			case <-c.done:
				attempt = c.cfg.RetryAttempts
			}
		}
	}

	c.recordFailure(lastErr)
	return lastErr
}

// send performs a single registration request.
func (c *Client) send(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"device_type": c.cfg.DeviceType,
		"ip_address":  c.cfg.AdvertiseIP,
		"port":        c.cfg.Port,
	})
	if err != nil {
		return fmt.Errorf("marshalling heartbeat: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/fleet/device/%s", c.cfg.ControllerURL, c.cfg.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only response body

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Best effort error detail
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.sent++
	c.succeeded++
	c.lastSuccess = time.Now().UTC()
	c.lastErr = nil
	c.mu.Unlock()
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.sent++
	c.failed++
	c.lastErr = err
	c.mu.Unlock()
}
