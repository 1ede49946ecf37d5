// Package chatclient talks to the external chat/completion endpoint that
// actually drives the browser-automation agent loop. The task queue never
// implements browser control itself; it submits an instruction and streams
// back the step-by-step tool trace and final result.
//
// The streaming parse is grounded verbatim on the teacher's
// ai/providers/openai/client.go: a bufio.Reader over the response body,
// line-at-a-time "data: " framing, tolerant per-frame JSON decode, and a
// context-cancellation check on every loop iteration.
package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/browseragent/taskqueue/internal/logger"
)

// Request is the payload posted to the external chat endpoint.
type Request struct {
	Instruction string                 `json:"instruction"`
	Provider    string                 `json:"provider,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// StreamEventType discriminates the frames the external endpoint emits.
type StreamEventType string

const (
	EventStep     StreamEventType = "step"
	EventResult   StreamEventType = "result"
	EventError    StreamEventType = "error"
	EventHeartbeat StreamEventType = "heartbeat"
)

// StreamEvent is one SSE frame decoded from the chat endpoint.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Seq      int             `json:"seq"`
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Outcome is the aggregated result of a full streamed call, including every
// step observed before completion, error, or context cancellation.
type Outcome struct {
	Steps     []StreamEvent
	Result    json.RawMessage
	Err       string
	Partial   bool
}

// Client posts instructions to the external chat endpoint and consumes its
// SSE stream.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

// New builds a Client against baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Execute posts req and streams the response, invoking onEvent for each
// frame as it arrives so the caller (Executor) can persist steps
// incrementally rather than only at the end. It returns the aggregated
// Outcome once the stream ends, errors, or ctx is cancelled.
func (c *Client) Execute(ctx context.Context, req Request, onEvent func(StreamEvent)) (Outcome, error) {
	return c.execute(ctx, req, nil, onEvent)
}

// ExecuteWithRetry is Execute, but connection failures and 5xx responses
// are retried under b before giving up, rather than surfacing on the
// first transient error. This is a connection-establishment retry only:
// once the stream itself starts, a failure mid-stream is never retried
// here, since replaying a partially-streamed agent turn isn't safe.
func (c *Client) ExecuteWithRetry(ctx context.Context, req Request, b *backoff.ExponentialBackOff, onEvent func(StreamEvent)) (Outcome, error) {
	return c.execute(ctx, req, b, onEvent)
}

func (c *Client) execute(ctx context.Context, req Request, b *backoff.ExponentialBackOff, onEvent func(StreamEvent)) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal chat request: %w", err)
	}

	connect := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build chat request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err // transient: connection-level failure, worth retrying
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("chat endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(buf)))
		}
		return resp, nil
	}

	var resp *http.Response
	if b == nil {
		resp, err = connect()
	} else {
		resp, err = backoff.Retry(ctx, connect, backoff.WithBackOff(b), backoff.WithMaxTries(4))
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.consumeStream(ctx, resp.Body, onEvent)
}

// consumeStream reads SSE frames off r until "data: [DONE]", EOF, a
// terminal result/error frame, or ctx cancellation, matching the teacher's
// per-line read loop and non-fatal per-frame decode error handling.
func (c *Client) consumeStream(ctx context.Context, r io.Reader, onEvent func(StreamEvent)) (Outcome, error) {
	reader := bufio.NewReader(r)
	var out Outcome

	for {
		select {
		case <-ctx.Done():
			out.Partial = true
			return out, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if line == "" {
					return out, nil
				}
			} else {
				out.Partial = true
				return out, fmt.Errorf("read chat stream: %w", err)
			}
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return out, nil
		}

		var evt StreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			if c.log != nil {
				c.log.Warn("chatclient: malformed stream frame, skipping")
			}
			continue
		}

		switch evt.Type {
		case EventStep:
			out.Steps = append(out.Steps, evt)
			if onEvent != nil {
				onEvent(evt)
			}
		case EventResult:
			out.Result = evt.Result
			if onEvent != nil {
				onEvent(evt)
			}
			return out, nil
		case EventError:
			out.Err = evt.Error
			if onEvent != nil {
				onEvent(evt)
			}
			return out, nil
		case EventHeartbeat:
			// keep-alive only, no state change
		}
	}
}
