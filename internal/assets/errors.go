package assets

import (
	"errors"
	"fmt"
)

// Machine-readable failure codes for asset operations.
const (
	CodeManifestInvalid    = "manifest_invalid"
	CodeManifestIncomplete = "manifest_incomplete"
	CodePathResolveFailed  = "path_resolve_failed"
	CodeIOFailed           = "io_failed"
	CodeHTTPFailed         = "http_failed"
	CodeSizeMismatch       = "size_mismatch"
	CodeSHA256Mismatch     = "sha256_mismatch"
	CodeSettingsInvalid    = "settings_invalid"
	CodeInvalidArgs        = "invalid_args"
	CodeInvalidState       = "invalid_state"
)

// Error carries a code, a human-readable message, and structured context
// (paths, expected/actual sizes or hashes) for diagnostics.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

// Error formats the failure for logs and wrapped error chains.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newError builds an Error with a non-nil context map.
func newError(code, message string, context map[string]any) *Error {
	if context == nil {
		context = map[string]any{}
	}
	return &Error{Code: code, Message: message, Context: context}
}

// CodeOf extracts the failure code from an error chain, io_failed when
// the chain carries no asset error.
func CodeOf(err error) string {
	var assetErr *Error
	if errors.As(err, &assetErr) {
		return assetErr.Code
	}
	return CodeIOFailed
}

// ContextOf extracts the structured context from an error chain, an empty
// map when the chain carries no asset error.
func ContextOf(err error) map[string]any {
	var assetErr *Error
	if errors.As(err, &assetErr) {
		return assetErr.Context
	}
	return map[string]any{}
}
