// Package fserrors gives sptps session and transport failures a stable,
// programmatically identifiable shape instead of leaving callers to pattern
// match on error strings.
package fserrors

import "fmt"

// Path identifies which transport carried the failing operation.
type Path string

const (
	PathWebSocket Path = "websocket"
	PathTCP       Path = "tcp"
	PathUDP       Path = "udp"
)

// Stage identifies which step of the protocol stack failed.
type Stage string

const (
	StageDial      Stage = "dial"
	StageHandshake Stage = "handshake"
	StageRecord    Stage = "record"
	StageMux       Stage = "mux"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier for user-facing operations.
type Code string

const (
	CodeTimeout          Code = "timeout"
	CodeCanceled         Code = "canceled"
	CodeDialFailed       Code = "dial_failed"
	CodeUpgradeFailed    Code = "upgrade_failed"
	CodeBadVersion       Code = "bad_version"
	CodeNoCommonSuite    Code = "no_common_suite"
	CodeBadSignature     Code = "bad_signature"
	CodeECDHFailed       Code = "ecdh_failed"
	CodeKeyDeriveFailed  Code = "key_derive_failed"
	CodeCipherInitFailed Code = "cipher_init_failed"
	CodeDecryptFailed    Code = "decrypt_failed"
	CodeReplay           Code = "replay"
	CodeFarFuture        Code = "far_future"
	CodeShortOrMalformed Code = "short_or_malformed"
	CodeInvalidState     Code = "invalid_state"
	CodeMuxFailed        Code = "mux_failed"
	CodeHandshakeFailed  Code = "handshake_failed"
	CodeRecordFailed     Code = "record_failed"
)

// Error is a structured, programmatically identifiable error for user-facing operations.
type Error struct {
	Path  Path
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Path, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Path, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches Path/Stage/Code context to err.
func Wrap(path Path, stage Stage, code Code, err error) error {
	return &Error{Path: path, Stage: stage, Code: code, Err: err}
}
