package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ritzau/category-sync/pkg/logging"
)

// HTTPOptions configures an HTTPEndpoint
type HTTPOptions struct {
	Timeout time.Duration // per-call timeout, 0 means no extra timeout
	Rate    float64       // calls per second, 0 disables limiting
	Burst   int
	Client  *http.Client
}

// HTTPEndpoint delivers invocations as JSON-RPC 2.0 requests over HTTP POST
type HTTPEndpoint struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID    string    `json:"id"`
	Error *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewHTTPEndpoint creates an endpoint posting to url
func NewHTTPEndpoint(url string, opts HTTPOptions) *HTTPEndpoint {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return &HTTPEndpoint{
		url:     url,
		client:  client,
		limiter: limiter,
		timeout: opts.Timeout,
	}
}

func (e *HTTPEndpoint) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if args == nil {
		args = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  args,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s call: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrDelivery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %s", ErrDelivery, e.url, resp.Status)
	}

	if len(bytes.TrimSpace(payload)) > 0 {
		var rpcResp rpcResponse
		if err := json.Unmarshal(payload, &rpcResp); err != nil {
			return fmt.Errorf("%w: malformed response: %v", ErrDelivery, err)
		}
		if rpcResp.Error != nil {
			return fmt.Errorf("%w: %s (code %d)", ErrDelivery, rpcResp.Error.Message, rpcResp.Error.Code)
		}
	}

	logging.DebugContext(ctx, "observer call delivered",
		"method", method,
		"id", req.ID,
		"durationMs", time.Since(start).Milliseconds(),
	)
	return nil
}
