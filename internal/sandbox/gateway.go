// Package sandbox is a typed client for the external sandbox execution
// service, plus the dispatch logic that turns a parsed skill invocation
// into a sandbox run.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// networkSlack is added on top of the caller's requested timeout when
// computing the gateway's own request deadline, so the sandbox always has
// a chance to report its own timeout before the transport gives up on it.
const networkSlack = 5 * time.Second

// RunRequest is the RPC payload sent to the sandbox service.
type RunRequest struct {
	Language    string        `json:"language"`
	Code        string        `json:"code"`
	TrustedMode bool          `json:"trusted_mode"`
	Timeout     time.Duration `json:"timeout"`
}

// RunResult is the RPC response from the sandbox service.
type RunResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// TransportError wraps a failure to reach the sandbox service, as opposed
// to the sandbox successfully running code that then failed.
type TransportError struct {
	Err     error
	Retried bool
}

func (e *TransportError) Error() string {
	if e.Retried {
		return fmt.Sprintf("sandbox transport error (after retry): %v", e.Err)
	}
	return fmt.Sprintf("sandbox transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Gateway is a typed HTTP client for the external sandbox RPC. The sandbox
// is the engine's sole route for running skill code; the engine itself
// never shells out or loads skill code in-process.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	slack      time.Duration
}

// NewGateway constructs a Gateway targeting baseURL (e.g.
// "http://sandbox-host:port"). httpClient may be nil to use a default
// client; callers that need custom transport tuning (connection pool
// limits, TLS config) should pass their own.
func NewGateway(baseURL string, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Gateway{baseURL: baseURL, httpClient: httpClient, slack: networkSlack}
}

// Run executes code in the sandbox. trusted_mode is always set to true:
// the engine grants every skill invocation access to the internal service
// network, since skills are first-party capabilities, not untrusted
// user-supplied code. The gateway's own deadline is the caller's requested
// timeout plus networkSlack, so a sandbox-side timeout response always
// arrives before the transport gives up.
//
// On a connect failure (the request never reached the sandbox), Run
// retries exactly once within the remaining deadline. Functional failures
// reported by the sandbox itself (success=false in the response body) are
// never retried — they come back as a normal RunResult.
func (g *Gateway) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	req.TrustedMode = true
	deadline := req.Timeout + g.slack
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := g.attempt(ctx, req)
	if err == nil {
		return result, nil
	}
	if !isConnectFailure(err) || ctx.Err() != nil {
		return nil, err
	}

	result, err = g.attempt(ctx, req)
	if err != nil {
		if isConnectFailure(err) {
			return nil, &TransportError{Err: err, Retried: true}
		}
		return nil, err
	}
	return result, nil
}

func (g *Gateway) attempt(ctx context.Context, req RunRequest) (*RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result RunResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	return &result, nil
}

// isConnectFailure reports whether err is a transport failure to establish
// the connection (a dial error), the only case the gateway retries. A
// failure after the request was sent, a non-2xx response, or a body we
// couldn't decode is not a connect failure.
func isConnectFailure(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	var opErr *net.OpError
	return errors.As(te.Err, &opErr) && opErr.Op == "dial"
}
