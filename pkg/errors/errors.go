// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeBoundarySanitizeViolation Code = "boundary.sanitize.postcondition_violation"
	CodeBoundarySignatureInvalid  Code = "boundary.signature.invalid"
	CodeBoundaryContentInvalid    Code = "boundary.content.invalid"

	CodeHookRegistrationInvalid Code = "hooks.registration.invalid"
	CodeHookHandlerFailure      Code = "hooks.handler.failure"
	CodeHookHandlerTimeout      Code = "hooks.handler.timeout"
	CodeHookPersistAborted      Code = "hooks.persist.aborted"

	CodeToolNotFound         Code = "tool.registry.not_found"
	CodeToolExecutionFailure Code = "tool.execution.failure"
	CodeToolCallStateInvalid Code = "tool.call.state.invalid"

	CodeStoreAuditAppendFailure Code = "store.audit.append.failure"
	CodeStoreAuditQueryFailure  Code = "store.audit.query.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreClosed             Code = "store.sink.closed"
	CodeStoreInvalidInput       Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodePluginManifestValidateInvalid    Code = "plugin.manifest.validate.invalid"
	CodePluginLifecycleTransitionInvalid Code = "plugin.lifecycle.transition.invalid"
	CodePluginDiscoveryFailure           Code = "plugin.discovery.failure"
	CodePluginNotFound                   Code = "plugin.not_found"
	CodePluginHandlerUnknown             Code = "plugin.handler.unknown"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPlugin(value string) Attr {
	return Field("plugin", value)
}

func FieldHookEvent(value string) Attr {
	return Field("hook_event", value)
}

func FieldCallID(value string) Attr {
	return Field("call_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldSourceKind(value string) Attr {
	return Field("source_kind", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsSanitizationViolation reports whether the sanitizer postcondition failed.
// This class of error must never be silently ignored.
func IsSanitizationViolation(err error) bool {
	return HasCode(err, CodeBoundarySanitizeViolation)
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
