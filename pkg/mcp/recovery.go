package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Transport tuning constants. The retry budget and inflight cap live in
// config.MCPRuntimeConfig; these cover the fixed plumbing timeouts.
const (
	// ReinitTimeout is the deadline for recreating an MCP session during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools.
	// The step timeout (600s) is the hard ceiling above this.
	OperationTimeout = 60 * time.Second

	// RetryBackoffMin is the minimum jittered backoff before the first retry.
	// The window doubles on each subsequent attempt.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff before the first retry.
	RetryBackoffMax = 750 * time.Millisecond

	// MCPInitTimeout is the per-server initialization timeout (transport + handshake).
	MCPInitTimeout = 30 * time.Second

	// MCPHealthPingTimeout is the health check ping timeout.
	MCPHealthPingTimeout = 5 * time.Second

	// MCPHealthInterval is the health check loop interval.
	MCPHealthInterval = 15 * time.Second
)

// ClassifyError maps a raw session error to a failure kind.
//
// Connection-shaped errors classify as TransportTransient: the server may
// come back, so the client retries with a fresh session. Timeouts do not —
// a slow tool will most likely be slow again, and retrying burns the step
// budget. Protocol-level breakage classifies as TransportFatal so the
// session gets recycled. Everything else is the server telling us the tool
// failed.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}

	// Per-call deadline elapsed or the caller gave up. CallTool checks the
	// outer context separately, so by the time this runs the deadline was
	// the per-attempt one.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ToolExecutionError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ToolExecutionError
		}
		return TransportTransient
	}

	if isConnectionError(err) {
		return TransportTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid params"):
		// The server is stricter than its advertised schema.
		return ToolInputInvalid
	case strings.Contains(msg, "method not found"),
		strings.Contains(msg, "unknown tool"),
		strings.Contains(msg, "tool not found"):
		return ToolNotFound
	case strings.Contains(msg, "no session"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "parse error"):
		return TransportFatal
	}

	// Unrecognized errors are JSON-RPC error responses from the server:
	// the transport works, the tool did not.
	return ToolExecutionError
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := err.Error()
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(strings.ToLower(msg), e) {
			return true
		}
	}
	return false
}
