// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wardgate-dev/wardgate/internal/agent"
	"github.com/wardgate-dev/wardgate/internal/boundary"
	"github.com/wardgate-dev/wardgate/internal/plugin"
	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Services bundles the components the REST routes delegate to.
type Services struct {
	Wrapper    *boundary.Wrapper
	Dispatcher *agent.Dispatcher
	Sink       store.AuditSink
	Plugins    *plugin.Manager
}

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "wrap-content",
		Method:      http.MethodPost,
		Path:        "/api/v1/wrap",
		Summary:     "Wrap external content for safe inclusion in agent context",
		Tags:        []string{"boundary"},
	}, s.handleWrap)

	huma.Register(s.api, huma.Operation{
		OperationID: "dispatch-tool",
		Method:      http.MethodPost,
		Path:        "/api/v1/tools/dispatch",
		Summary:     "Dispatch a tool call through the interception pipeline",
		Tags:        []string{"tools"},
	}, s.handleDispatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-audit",
		Method:      http.MethodGet,
		Path:        "/api/v1/audit",
		Summary:     "Query the security audit log",
		Tags:        []string{"audit"},
	}, s.handleAudit)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-plugins",
		Method:      http.MethodGet,
		Path:        "/api/v1/plugins",
		Summary:     "List hook guard plugins",
		Tags:        []string{"plugins"},
	}, s.handleListPlugins)
}

// --- Request/Response types for huma ---

type wrapAttribute struct {
	Key   string `json:"key" minLength:"1" doc:"Attribute name, e.g. From"`
	Value string `json:"value" doc:"Attribute value"`
}

type wrapInput struct {
	Body struct {
		Content    string          `json:"content" doc:"Raw external content"`
		SourceKind string          `json:"source_kind" minLength:"1" doc:"Origin channel: email, webhook, web_fetch, channel_metadata, api"`
		Attributes []wrapAttribute `json:"attributes,omitempty" doc:"Ordered provenance attributes for the source header"`
	}
}

type wrapOutput struct {
	Body struct {
		Wrapped string `json:"wrapped" doc:"Rendered boundary block"`
	}
}

type dispatchInput struct {
	Body struct {
		Tool   string         `json:"tool" minLength:"1" doc:"Registered tool name"`
		Params map[string]any `json:"params,omitempty" doc:"Tool parameters"`
	}
}

type dispatchOutput struct {
	Body struct {
		CallID      string `json:"call_id"`
		Content     string `json:"content" doc:"Persisted result, or the block reason for a blocked call"`
		Blocked     bool   `json:"blocked"`
		BlockReason string `json:"block_reason,omitempty"`
		State       string `json:"state"`
	}
}

type auditInput struct {
	Kind   string `query:"kind" doc:"Filter by record kind: detection, block, sanitization, hook_failure"`
	From   string `query:"from" doc:"Inclusive lower bound, RFC 3339"`
	To     string `query:"to" doc:"Exclusive upper bound, RFC 3339"`
	Limit  int    `query:"limit" minimum:"0" doc:"Maximum records to return"`
	Offset int    `query:"offset" minimum:"0" doc:"Records to skip"`
}

type auditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type auditOutput struct {
	Body struct {
		Records []auditEntry `json:"records"`
	}
}

type pluginEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Hooks   int    `json:"hooks"`
}

type listPluginsOutput struct {
	Body struct {
		Plugins []pluginEntry `json:"plugins"`
	}
}

// --- Handlers ---

func (s *Server) handleWrap(ctx context.Context, input *wrapInput) (*wrapOutput, error) {
	if s.services == nil || s.services.Wrapper == nil {
		return nil, huma.Error503ServiceUnavailable("boundary service not available")
	}

	attrs := make([]boundary.Attribute, 0, len(input.Body.Attributes))
	for _, a := range input.Body.Attributes {
		attrs = append(attrs, boundary.Attribute{Key: a.Key, Value: a.Value})
	}

	block, err := s.services.Wrapper.Wrap(ctx, boundary.ExternalContent{
		RawText:    input.Body.Content,
		SourceKind: boundary.SourceKind(input.Body.SourceKind),
		Attributes: attrs,
	})
	if err != nil {
		if warderr.IsInvalidInput(err) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		s.log.ErrorContext(ctx, "wrap failed", "error", err)
		return nil, huma.Error500InternalServerError("wrapping external content")
	}

	out := &wrapOutput{}
	out.Body.Wrapped = block.Render()
	return out, nil
}

func (s *Server) handleDispatch(ctx context.Context, input *dispatchInput) (*dispatchOutput, error) {
	if s.services == nil || s.services.Dispatcher == nil {
		return nil, huma.Error503ServiceUnavailable("dispatch service not available")
	}

	result, err := s.services.Dispatcher.Dispatch(ctx, input.Body.Tool, input.Body.Params)
	if err != nil {
		if warderr.IsNotFound(err) {
			return nil, huma.Error404NotFound(err.Error())
		}
		s.log.ErrorContext(ctx, "dispatch failed", "tool", input.Body.Tool, "error", err)
		return nil, huma.Error500InternalServerError("dispatching tool call")
	}

	out := &dispatchOutput{}
	out.Body.CallID = result.CallID
	out.Body.Content = result.Result.Content
	out.Body.Blocked = result.Blocked
	out.Body.BlockReason = result.BlockReason
	out.Body.State = result.State.String()
	return out, nil
}

func (s *Server) handleAudit(ctx context.Context, input *auditInput) (*auditOutput, error) {
	if s.services == nil || s.services.Sink == nil {
		return nil, huma.Error503ServiceUnavailable("audit service not available")
	}

	filter := store.AuditFilter{
		Kind:   store.RecordKind(input.Kind),
		Limit:  input.Limit,
		Offset: input.Offset,
	}
	if input.Kind != "" && !filter.Kind.Valid() {
		return nil, huma.Error422UnprocessableEntity("unknown record kind " + input.Kind)
	}
	if input.From != "" {
		from, err := time.Parse(time.RFC3339, input.From)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("from must be RFC 3339")
		}
		filter.From = from
	}
	if input.To != "" {
		to, err := time.Parse(time.RFC3339, input.To)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("to must be RFC 3339")
		}
		filter.To = to
	}

	records, err := s.services.Sink.Query(ctx, filter)
	if err != nil {
		s.log.ErrorContext(ctx, "audit query failed", "error", err)
		return nil, huma.Error500InternalServerError("querying audit log")
	}

	out := &auditOutput{}
	out.Body.Records = make([]auditEntry, 0, len(records))
	for _, rec := range records {
		out.Body.Records = append(out.Body.Records, auditEntry{
			ID:        rec.ID,
			Timestamp: rec.Timestamp,
			Kind:      string(rec.Kind),
			Payload:   rec.Payload,
		})
	}
	return out, nil
}

func (s *Server) handleListPlugins(_ context.Context, _ *struct{}) (*listPluginsOutput, error) {
	if s.services == nil || s.services.Plugins == nil {
		return nil, huma.Error503ServiceUnavailable("plugin service not available")
	}

	out := &listPluginsOutput{}
	for _, inst := range s.services.Plugins.List() {
		out.Body.Plugins = append(out.Body.Plugins, pluginEntry{
			Name:    inst.Name(),
			Version: inst.Manifest().Version,
			State:   inst.State().String(),
			Hooks:   inst.HookCount(),
		})
	}
	if out.Body.Plugins == nil {
		out.Body.Plugins = []pluginEntry{}
	}
	return out, nil
}
