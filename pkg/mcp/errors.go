package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind classifies tool invocation failures. The orchestrator folds
// these into step error kinds: policy violations fail the step as a policy
// error, everything else as a tool error.
type FailureKind string

const (
	// ToolDenied — the step's allow-list does not permit the tool.
	// Raised before any server contact.
	ToolDenied FailureKind = "ToolDenied"

	// ToolNotFound — the server does not advertise the tool, or the name
	// cannot be parsed into "server.tool" form.
	ToolNotFound FailureKind = "ToolNotFound"

	// ToolInputInvalid — the arguments could not be parsed or failed
	// validation against the tool's advertised schema.
	ToolInputInvalid FailureKind = "ToolInputInvalid"

	// ToolExecutionError — the server accepted the call but the tool
	// failed (error result, handler error, or per-call timeout).
	ToolExecutionError FailureKind = "ToolExecutionError"

	// TransportTransient — a connection-level failure. Retried internally;
	// surfaces only after all attempts are exhausted.
	TransportTransient FailureKind = "TransportTransient"

	// TransportFatal — the session is broken at the protocol level.
	// Not retried within the call; the session is recycled in the background.
	TransportFatal FailureKind = "TransportFatal"
)

// PolicyViolation reports whether the failure sits on the caller's side of
// the contract: a denied, unknown, or malformed invocation rather than a
// broken tool or transport.
func (k FailureKind) PolicyViolation() bool {
	switch k {
	case ToolDenied, ToolNotFound, ToolInputInvalid:
		return true
	}
	return false
}

// ToolError is the failure type for tool invocations. Every executor and
// client failure surfaces as *ToolError so callers can branch on Kind.
type ToolError struct {
	Kind    FailureKind
	Server  string
	Tool    string
	Message string
	Err     error // underlying cause, if any
}

func (e *ToolError) Error() string {
	name := e.Tool
	if e.Server != "" && e.Tool != "" {
		name = e.Server + "." + e.Tool
	}
	if name == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, name, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err. Errors that did not originate in
// this package classify as TransportFatal; nil returns the empty kind.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return TransportFatal
}

// Digest returns the digest string recorded in step tool-call records.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DigestArguments canonicalizes a raw tool-argument payload before digesting,
// so logically identical arguments produce identical digests regardless of
// JSON, YAML, or key-value formatting. Unparseable payloads are digested
// verbatim.
func DigestArguments(raw string) string {
	args, err := ParseActionInput(raw)
	if err != nil {
		return Digest([]byte(raw))
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Digest([]byte(raw))
	}
	return Digest(data)
}
