// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package plugin loads hook guard plugins: YAML manifests declaring which
// built-in handlers subscribe to which tool-call lifecycle events, a
// lifecycle state machine per plugin, and the manager that registers the
// handlers with the hook registry.
package plugin

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardgate-dev/wardgate/internal/hooks"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// nameRe matches valid plugin names: lowercase alphanumerics, dash,
// underscore.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// semverRe matches strict semver (no "v" prefix): MAJOR.MINOR.PATCH with
// optional prerelease and build metadata. Leading zeros on numeric segments
// are disallowed per the semver spec.
var semverRe = regexp.MustCompile(
	`^(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)\.(?:0|[1-9]\d*)` +
		`(?:-(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
		`(?:\+(?:[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// Manifest is the parsed plugin.yaml. A plugin is purely declarative: it
// names built-in handler variants and binds them to lifecycle events; there
// is no dynamically loaded code.
type Manifest struct {
	Name        string     `yaml:"name"`
	Version     string     `yaml:"version"`
	Description string     `yaml:"description,omitempty"`
	Hooks       []HookSpec `yaml:"hooks"`
}

// HookSpec binds one built-in handler to one lifecycle event.
type HookSpec struct {
	Event   string         `yaml:"event"`
	Handler string         `yaml:"handler"`
	Order   int            `yaml:"order,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// ParseManifest parses YAML data into a Manifest and validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest parse: %s", err)
	}

	if errs := m.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	return &m, nil
}

// Validate checks that the Manifest is well-formed. It returns all
// validation errors found rather than stopping at the first one.
func (m *Manifest) Validate() []error {
	var errs []error

	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest validation: name must not be empty"))
	} else if !nameRe.MatchString(m.Name) {
		errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest validation: name %q must match %s", m.Name, nameRe.String()))
	}

	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest validation: version must not be empty"))
	} else if !semverRe.MatchString(m.Version) {
		errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest validation: version must be valid semver (MAJOR.MINOR.PATCH), got %q", m.Version))
	}

	if len(m.Hooks) == 0 {
		errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
			"manifest validation: at least one hook is required"))
	}

	for i, spec := range m.Hooks {
		event := hooks.EventKind(spec.Event)
		if !event.Valid() {
			errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
				"manifest validation: hooks[%d]: unknown event %q", i, spec.Event))
			continue
		}

		b, ok := builtinHandlers[spec.Handler]
		if !ok {
			errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
				"manifest validation: hooks[%d]: unknown handler %q", i, spec.Handler))
			continue
		}
		if b.event != event {
			errs = append(errs, warderr.Errorf(warderr.CodePluginManifestValidateInvalid,
				"manifest validation: hooks[%d]: handler %q serves event %s, not %s",
				i, spec.Handler, b.event, event))
		}
	}

	return errs
}
