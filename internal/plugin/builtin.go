// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/wardgate-dev/wardgate/internal/boundary"
	"github.com/wardgate-dev/wardgate/internal/hooks"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Deps are the runtime dependencies handed to built-in handlers at build
// time.
type Deps struct {
	Logger  *slog.Logger
	Wrapper *boundary.Wrapper
}

// builtin describes one handler variant: the event it serves and its
// factory. Handlers are a fixed set selected by the manifest handler key;
// invocation is a direct call through the event's handler type, never
// reflection.
type builtin struct {
	event hooks.EventKind
	build func(deps Deps, spec HookSpec) (hooks.Registration, error)
}

var builtinHandlers = map[string]builtin{
	"tool_policy":           {event: hooks.EventBeforeToolCall, build: buildToolPolicy},
	"param_rewriter":        {event: hooks.EventBeforeToolCall, build: buildParamRewriter},
	"audit_observer":        {event: hooks.EventAfterToolCall, build: buildAuditObserver},
	"secret_redactor":       {event: hooks.EventToolResultPersist, build: buildSecretRedactor},
	"external_result_guard": {event: hooks.EventToolResultPersist, build: buildExternalResultGuard},
}

// BuiltinHandlerNames returns the handler names a manifest may reference,
// sorted.
func BuiltinHandlerNames() []string {
	names := make([]string, 0, len(builtinHandlers))
	for name := range builtinHandlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// buildRegistration resolves a HookSpec to a concrete registration for
// pluginID. The manifest has already validated that the handler exists and
// matches the event; this re-checks cheaply and then builds.
func buildRegistration(deps Deps, pluginID string, spec HookSpec) (hooks.Registration, error) {
	b, ok := builtinHandlers[spec.Handler]
	if !ok {
		return hooks.Registration{}, warderr.Errorf(warderr.CodePluginHandlerUnknown,
			"unknown handler %q (known: %s)", spec.Handler, strings.Join(BuiltinHandlerNames(), ", "))
	}

	reg, err := b.build(deps, spec)
	if err != nil {
		return hooks.Registration{}, err
	}
	reg.Event = b.event
	reg.PluginID = pluginID
	reg.Order = spec.Order
	return reg, nil
}

// buildToolPolicy creates a before handler enforcing a tool allow/deny
// list. Options: deny_tools (blocked outright), allow_tools (when
// non-empty, everything not listed is blocked).
func buildToolPolicy(_ Deps, spec HookSpec) (hooks.Registration, error) {
	deny, err := stringSliceOption(spec.Options, "deny_tools")
	if err != nil {
		return hooks.Registration{}, err
	}
	allow, err := stringSliceOption(spec.Options, "allow_tools")
	if err != nil {
		return hooks.Registration{}, err
	}
	if len(deny) == 0 && len(allow) == 0 {
		return hooks.Registration{}, warderr.New(warderr.CodePluginManifestValidateInvalid,
			"tool_policy requires deny_tools or allow_tools")
	}

	return hooks.Registration{
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			if slices.Contains(deny, call.ToolName) {
				call.Block(fmt.Sprintf("tool %q is denied by policy", call.ToolName))
				return nil
			}
			if len(allow) > 0 && !slices.Contains(allow, call.ToolName) {
				call.Block(fmt.Sprintf("tool %q is not on the policy allowlist", call.ToolName))
			}
			return nil
		},
	}, nil
}

// buildParamRewriter creates a before handler that overwrites params.
// Options: tool (empty applies to every tool), set (param name to value).
func buildParamRewriter(_ Deps, spec HookSpec) (hooks.Registration, error) {
	tool, err := stringOption(spec.Options, "tool")
	if err != nil {
		return hooks.Registration{}, err
	}
	set, err := mapOption(spec.Options, "set")
	if err != nil {
		return hooks.Registration{}, err
	}
	if len(set) == 0 {
		return hooks.Registration{}, warderr.New(warderr.CodePluginManifestValidateInvalid,
			"param_rewriter requires a non-empty set option")
	}

	return hooks.Registration{
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			if tool != "" && call.ToolName != tool {
				return nil
			}
			if call.Params == nil {
				call.Params = make(map[string]any, len(set))
			}
			for k, v := range set {
				call.Params[k] = v
			}
			return nil
		},
	}, nil
}

// buildAuditObserver creates an after handler that logs completed calls.
func buildAuditObserver(deps Deps, _ HookSpec) (hooks.Registration, error) {
	log := deps.Logger.With("component", "audit_observer")

	return hooks.Registration{
		After: func(ctx context.Context, call *hooks.ToolCallContext) error {
			resultLen := 0
			if call.Result != nil {
				resultLen = len(call.Result.Content)
			}
			log.InfoContext(ctx, "tool call observed",
				"tool", call.ToolName,
				"call_id", call.CallID,
				"blocked", call.Blocked,
				"result_bytes", resultLen)
			return nil
		},
	}, nil
}

// defaultSecretPatterns covers common credential shapes when a
// secret_redactor manifest supplies no patterns of its own.
var defaultSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`xox[bpas]-[A-Za-z0-9-]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`),
	regexp.MustCompile(`-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// buildSecretRedactor creates a persist handler replacing credential
// matches with [REDACTED]. Options: patterns (regex strings) to use instead
// of the built-in set.
func buildSecretRedactor(_ Deps, spec HookSpec) (hooks.Registration, error) {
	patterns := defaultSecretPatterns
	raw, err := stringSliceOption(spec.Options, "patterns")
	if err != nil {
		return hooks.Registration{}, err
	}
	if len(raw) > 0 {
		patterns = make([]*regexp.Regexp, 0, len(raw))
		for _, p := range raw {
			re, rerr := regexp.Compile(p)
			if rerr != nil {
				return hooks.Registration{}, warderr.Wrapf(rerr, warderr.CodePluginManifestValidateInvalid,
					"secret_redactor pattern %q", p)
			}
			patterns = append(patterns, re)
		}
	}

	return hooks.Registration{
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			for _, re := range patterns {
				result.Content = re.ReplaceAllString(result.Content, "[REDACTED]")
			}
			return result, nil
		},
	}, nil
}

// buildExternalResultGuard creates a persist handler that wraps a tool's
// output as external untrusted content before it is persisted into session
// state. Options: tools (which tools produce external content; required),
// source_kind (defaults to api).
func buildExternalResultGuard(deps Deps, spec HookSpec) (hooks.Registration, error) {
	if deps.Wrapper == nil {
		return hooks.Registration{}, warderr.New(warderr.CodePluginManifestValidateInvalid,
			"external_result_guard requires the content wrapper")
	}

	tools, err := stringSliceOption(spec.Options, "tools")
	if err != nil {
		return hooks.Registration{}, err
	}
	if len(tools) == 0 {
		return hooks.Registration{}, warderr.New(warderr.CodePluginManifestValidateInvalid,
			"external_result_guard requires a non-empty tools option")
	}

	kindStr, err := stringOption(spec.Options, "source_kind")
	if err != nil {
		return hooks.Registration{}, err
	}
	kind := boundary.SourceAPI
	if kindStr != "" {
		kind = boundary.SourceKind(kindStr)
		if !kind.Valid() {
			return hooks.Registration{}, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
				"external_result_guard: unknown source_kind %q", kindStr)
		}
	}

	wrapper := deps.Wrapper
	return hooks.Registration{
		Persist: func(ctx context.Context, call *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			if !slices.Contains(tools, call.ToolName) {
				return result, nil
			}
			block, werr := wrapper.Wrap(ctx, boundary.ExternalContent{
				RawText:    result.Content,
				SourceKind: kind,
				Attributes: []boundary.Attribute{{Key: "Tool", Value: call.ToolName}},
			})
			if werr != nil {
				// Fail closed: an unwrappable result must not be persisted.
				return hooks.ToolResult{}, werr
			}
			result.Content = block.Render()
			return result, nil
		},
	}, nil
}

func stringOption(options map[string]any, key string) (string, error) {
	v, ok := options[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"option %q must be a string, got %T", key, v)
	}
	return s, nil
}

func stringSliceOption(options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok {
		return nil, nil
	}

	items, ok := v.([]any)
	if !ok {
		return nil, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"option %q must be a list of strings, got %T", key, v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
				"option %q must contain only strings, got %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func mapOption(options map[string]any, key string) (map[string]any, error) {
	v, ok := options[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"option %q must be a mapping, got %T", key, v)
	}
	return m, nil
}
