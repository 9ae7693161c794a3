package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrTransport means the host bridge could not be reached or answered garbage.
	ErrTransport = errors.New("host bridge transport failure")
	// ErrBridgeTimeout means the bridge killed the CLI at its own timeout.
	ErrBridgeTimeout = errors.New("host bridge command timeout")
)

// BridgeTimeoutMessage is the error text the bridge returns when the CLI timed out.
const BridgeTimeoutMessage = "Command timeout"

const maxBridgeResponseSize = 32 << 20

// ExecuteRequest is the envelope POSTed to the bridge's /execute.
type ExecuteRequest struct {
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd,omitempty"`
	Timeout int      `json:"timeout"`
}

// BridgeError is the body the bridge returns with a 500.
type BridgeError struct {
	Error string `json:"error"`
}

// BridgeRunner runs the CLI through a host bridge over loopback HTTP.
type BridgeRunner struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBridgeRunner creates a runner targeting baseURL (e.g. http://host.docker.internal:8001).
// The request context bounds each call, so the client carries no timeout of its own.
func NewBridgeRunner(baseURL string, client *http.Client, logger *slog.Logger) *BridgeRunner {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeRunner{baseURL: baseURL, client: client, logger: logger}
}

// Run posts the invocation to the bridge and waits for the CLI to finish there.
func (b *BridgeRunner) Run(ctx context.Context, inv Invocation) (RunOutput, error) {
	body, err := json.Marshal(ExecuteRequest{
		Args:    inv.Args,
		Cwd:     inv.Dir,
		Timeout: int(math.Ceil(inv.Timeout.Seconds())),
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return RunOutput{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RunOutput{}, ctx.Err()
		}
		return RunOutput{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Debug("failed to close bridge response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBridgeResponseSize))
	if err != nil {
		return RunOutput{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		var bridgeErr BridgeError
		if json.Unmarshal(data, &bridgeErr) == nil && bridgeErr.Error == BridgeTimeoutMessage {
			return RunOutput{}, ErrBridgeTimeout
		}
		return RunOutput{}, fmt.Errorf("%w: bridge returned %d: %s", ErrTransport, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out RunOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return RunOutput{}, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return out, nil
}

// ListSessions asks the bridge for the host's agent history.
func (b *BridgeRunner) ListSessions(ctx context.Context, project string) (HistoryListing, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := b.baseURL + "/sessions"
	if project != "" {
		endpoint += "?project=" + url.QueryEscape(project)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HistoryListing{}, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return HistoryListing{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Debug("failed to close bridge response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return HistoryListing{}, fmt.Errorf("%w: bridge returned %d for sessions", ErrTransport, resp.StatusCode)
	}

	var listing HistoryListing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBridgeResponseSize)).Decode(&listing); err != nil {
		return HistoryListing{}, fmt.Errorf("%w: decode sessions: %v", ErrTransport, err)
	}
	return listing, nil
}
