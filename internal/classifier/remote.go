package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"FlowSentry/internal/logging"
)

// RemoteOptions configures the HTTP scorer and its circuit breaker.
type RemoteOptions struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HTTPClient       *http.Client
}

type remoteRequest struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

type remoteResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
}

// Remote scores rows with an HTTP JSON classifier service. Calls go through a
// circuit breaker so an unavailable scorer fails fast.
type Remote struct {
	url     string
	classes []string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[][]float64]
}

// NewRemote creates a remote classifier posting to url.
func NewRemote(url string, classes []string, opts RemoteOptions) *Remote {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	settings := gobreaker.Settings{
		Name:        "remote-classifier",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("classifier circuit breaker state changed")
		},
	}
	return &Remote{
		url:     url,
		classes: classes,
		client:  client,
		timeout: opts.Timeout,
		breaker: gobreaker.NewCircuitBreaker[[][]float64](settings),
	}
}

// Classes returns the class labels.
func (r *Remote) Classes() []string {
	return r.classes
}

// State returns the circuit breaker state.
func (r *Remote) State() gobreaker.State {
	return r.breaker.State()
}

// PredictProba implements model.Classifier.
func (r *Remote) PredictProba(ctx context.Context, columns []string, rows [][]float64) ([][]float64, error) {
	return r.breaker.Execute(func() ([][]float64, error) {
		return r.call(ctx, columns, rows)
	})
}

func (r *Remote) call(ctx context.Context, columns []string, rows [][]float64) ([][]float64, error) {
	body, err := json.Marshal(remoteRequest{Columns: columns, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classifier request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	if len(out.Probabilities) != len(rows) {
		return nil, fmt.Errorf("%w: %d probability rows for %d inputs", ErrShapeMismatch, len(out.Probabilities), len(rows))
	}
	return out.Probabilities, nil
}
