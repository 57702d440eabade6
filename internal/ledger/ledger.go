// Package ledger submits audit hashes to an external immutable ledger.
package ledger

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

	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
)

// Circuit breaker configuration.
const (
	cbFailureThreshold = 5
	cbCooldown         = 30 * time.Second
)

// Circuit breaker states.
const (
	cbClosed   = iota // Normal operation.
	cbOpen            // Fail fast.
	cbHalfOpen        // Probe with one request.
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls without
	// contacting the ledger.
	ErrCircuitOpen = errors.New("ledger circuit breaker is open")

	// ErrRejected marks a submission the ledger refused outright (4xx).
	// Retrying it will not help.
	ErrRejected = errors.New("ledger rejected submission")
)

// Disabled is the ledger used when anchoring is turned off.
type Disabled struct{}

// Enabled always reports false.
func (Disabled) Enabled() bool { return false }

// Submit always fails with models.ErrLedgerDisabled.
func (Disabled) Submit(context.Context, models.AnchorOp, string, string) (*models.AnchorReceipt, error) {
	return nil, models.ErrLedgerDisabled
}

// Client submits hashes to the ledger's HTTP API.
type Client struct {
	url    string
	apiKey string
	client *http.Client
	now    func() time.Time

	mu              sync.Mutex
	cbState         int
	cbFailures      int
	cbLastFailureAt time.Time
}

type submitRequest struct {
	Op    models.AnchorOp `json:"op"`
	Hash  string          `json:"hash"`
	Label string          `json:"label"`
}

type submitResponse struct {
	TxRef    string `json:"tx_ref"`
	BlockRef string `json:"block_ref"`
}

// NewClient creates a Client posting to url with a bearer apiKey.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		cbState: cbClosed,
	}
}

// Enabled always reports true.
func (c *Client) Enabled() bool { return true }

// Submit anchors hash under label and returns the ledger's receipt.
// It uses a circuit breaker to fail fast when the ledger is down.
func (c *Client) Submit(ctx context.Context, op models.AnchorOp, hash, label string) (*models.AnchorReceipt, error) {
	if err := c.cbAllow(); err != nil {
		metrics.LedgerRequestDuration.WithLabelValues("circuit_open").Observe(0)
		return nil, err
	}

	start := time.Now()
	receipt, err := c.doSubmit(ctx, op, hash, label)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		c.cbRecordSuccess()
		metrics.LedgerRequestDuration.WithLabelValues("ok").Observe(elapsed)
	case errors.Is(err, ErrRejected):
		// The ledger answered, so it is up.
		c.cbRecordSuccess()
		metrics.LedgerRequestDuration.WithLabelValues("rejected").Observe(elapsed)
	default:
		c.cbRecordFailure()
		metrics.LedgerRequestDuration.WithLabelValues("error").Observe(elapsed)
	}

	return receipt, err
}

func (c *Client) doSubmit(ctx context.Context, op models.AnchorOp, hash, label string) (*models.AnchorReceipt, error) {
	body, err := json.Marshal(submitRequest{Op: op, Hash: hash, Label: label})
	if err != nil {
		return nil, fmt.Errorf("marshaling ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ledger request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain body so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}

		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var result submitResponse

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding ledger response: %w", err)
	}

	if result.TxRef == "" {
		return nil, fmt.Errorf("ledger response missing tx_ref")
	}

	return &models.AnchorReceipt{TxRef: result.TxRef, BlockRef: result.BlockRef}, nil
}

// cbAllow checks whether the circuit breaker permits a request.
// Open rejects until the cooldown expires, then one half-open probe passes.
func (c *Client) cbAllow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cbState {
	case cbOpen:
		if c.now().Sub(c.cbLastFailureAt) >= cbCooldown {
			c.cbState = cbHalfOpen
			return nil
		}

		return ErrCircuitOpen
	case cbHalfOpen:
		// Already probing.
		return ErrCircuitOpen
	}

	return nil
}

func (c *Client) cbRecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cbFailures = 0
	c.cbState = cbClosed
	metrics.LedgerCircuitOpen.Set(0)
}

func (c *Client) cbRecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cbFailures++
	c.cbLastFailureAt = c.now()

	if c.cbFailures >= cbFailureThreshold || c.cbState == cbHalfOpen {
		c.cbState = cbOpen
		metrics.LedgerCircuitOpen.Set(1)
	}
}
