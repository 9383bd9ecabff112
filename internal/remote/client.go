// Package remote wraps the rounds daemon HTTP API behind an availability
// state machine so callers can degrade to local-only operation the moment the
// backend stops answering.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rounds/internal/models"
)

const (
	// DefaultBaseURL is where the companion daemon listens.
	DefaultBaseURL = "http://127.0.0.1:5858"

	requestTimeout = 10 * time.Second

	// probeInterval caps how often we re-test an unavailable backend.
	probeInterval = 10 * time.Second
)

// ErrRemoteUnavailable covers every way the backend can fail: connection
// refused, timeout, non-2xx status, malformed body. Callers treat them all
// the same and fall back to local state.
var ErrRemoteUnavailable = errors.New("remote backend unavailable")

// Availability is the client's view of the backend.
type Availability int

const (
	// AvailabilityUnknown means no call has completed yet.
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityUnavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Client talks to the rounds daemon. Every call updates the availability
// state; while unavailable, at most one probing request goes out per
// probeInterval and every other call short-circuits without touching the
// network.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	state Availability
	probe *rate.Limiter
}

// New creates a client for the daemon at baseURL (DefaultBaseURL when empty).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		state:   AvailabilityUnknown,
		probe:   rate.NewLimiter(rate.Every(probeInterval), 1),
	}
}

// State returns the current availability.
func (c *Client) State() Availability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Available reports whether the backend is worth talking to. Unknown counts
// as available so the first call of a session is always attempted.
func (c *Client) Available() bool {
	return c.State() != AvailabilityUnavailable
}

// allowAttempt decides whether a call may hit the network. While unavailable
// only the rate-limited probe slot gets through.
func (c *Client) allowAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AvailabilityUnavailable {
		return true
	}
	return c.probe.Allow()
}

func (c *Client) recordResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	if err != nil {
		c.state = AvailabilityUnavailable
	} else {
		c.state = AvailabilityAvailable
	}
	if prev != c.state {
		log.Printf("🔌 [REMOTE] Backend %s -> %s", prev, c.state)
	}
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		err := fmt.Errorf("health: %w (status %q)", ErrRemoteUnavailable, body.Status)
		c.recordResult(err)
		return err
	}
	return nil
}

// FetchPatients retrieves the full remote record set.
func (c *Client) FetchPatients(ctx context.Context) ([]models.PatientRecord, error) {
	var body struct {
		Patients []models.PatientRecord `json:"patients"`
	}
	if err := c.get(ctx, "/rounds/patients", &body); err != nil {
		return nil, err
	}
	return body.Patients, nil
}

// SavePatients pushes the full record set.
func (c *Client) SavePatients(ctx context.Context, patients []models.PatientRecord) error {
	payload := struct {
		Patients []models.PatientRecord `json:"patients"`
	}{Patients: patients}
	return c.post(ctx, "/rounds/patients", payload, nil)
}

// QuickAdd asks the backend to create a record and returns the canonical
// server-built record.
func (c *Client) QuickAdd(ctx context.Context, name, scratchpad, ward string) (*models.PatientRecord, error) {
	payload := struct {
		Name       string `json:"name"`
		Scratchpad string `json:"scratchpad"`
		Ward       string `json:"ward"`
	}{Name: name, Scratchpad: scratchpad, Ward: ward}

	var body struct {
		Patient *models.PatientRecord `json:"patient"`
	}
	if err := c.post(ctx, "/rounds/patients/quick_add", payload, &body); err != nil {
		return nil, err
	}
	if body.Patient == nil {
		err := fmt.Errorf("quick add: %w (empty patient in response)", ErrRemoteUnavailable)
		c.recordResult(err)
		return nil, err
	}
	return body.Patient, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, b, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if !c.allowAttempt() {
		return fmt.Errorf("%s %s: %w (probe window closed)", method, path, ErrRemoteUnavailable)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%s %s: %w (%v)", method, path, ErrRemoteUnavailable, err)
		c.recordResult(wrapped)
		return wrapped
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := fmt.Errorf("%s %s: %w (%v)", method, path, ErrRemoteUnavailable, err)
		c.recordResult(wrapped)
		return wrapped
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(raw)
		wrapped := fmt.Errorf("%s %s: %w (status %d: %s)", method, path, ErrRemoteUnavailable, resp.StatusCode, msg)
		c.recordResult(wrapped)
		return wrapped
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			wrapped := fmt.Errorf("%s %s: %w (malformed body: %v)", method, path, ErrRemoteUnavailable, err)
			c.recordResult(wrapped)
			return wrapped
		}
	}

	c.recordResult(nil)
	return nil
}

// errorMessage extracts the daemon's {"error": "..."} body, falling back to
// the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	s := string(raw)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
