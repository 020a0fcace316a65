package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dshills/edgeflow-go/flow"
)

// fetchDesc declares the fetch node: performs an HTTP request and routes
// on the response class.
//
// Config:
//   - url: target URL (required)
//   - method: "GET" or "POST" (default "GET")
//   - headers: optional map of request headers
//   - body: optional request body string (POST)
//
// Edges:
//   - success: 2xx response
//   - clientError: 4xx response
//   - serverError: 5xx response
//   - error: transport failure or unexpected status class
//
// Every edge's payload carries statusCode, headers, and body when a
// response was received; the error edge carries "error" instead.
var fetchDesc = flow.Descriptor{
	Type:    "fetch",
	Name:    "HTTP Fetch",
	Version: builtinVersion,
	Inputs:  []string{"url", "method", "headers", "body"},
	Edges:   []string{"success", "clientError", "serverError", "error"},
}

// fetchNode holds a shared client so connection pooling survives across
// invocations within a process. Timeouts ride on the request context.
type fetchNode struct {
	client *http.Client
}

func newFetchNode() *fetchNode {
	return &fetchNode{client: &http.Client{}}
}

func (f *fetchNode) Execute(ctx context.Context, _ *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	urlStr, ok := asString(config["url"])
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("fetch: url config is required")
	}

	method := "GET"
	if m, ok := asString(config["method"]); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("fetch: unsupported method %q", method)
	}

	var body io.Reader
	if b, ok := asString(config["body"]); ok && b != "" {
		body = bytes.NewBufferString(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if v, ok := asString(value); ok {
				req.Header.Set(key, v)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Transport failures are part of normal fetch operation; route
		// them instead of aborting the run.
		return flow.Emit("error", map[string]any{"error": err.Error()}), nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return flow.Emit("error", map[string]any{"error": err.Error()}), nil
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	payload := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    respHeaders,
		"body":       string(respBody),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return flow.Emit("success", payload), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return flow.Emit("clientError", payload), nil
	case resp.StatusCode >= 500:
		return flow.Emit("serverError", payload), nil
	default:
		payload["error"] = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return flow.Emit("error", payload), nil
	}
}
