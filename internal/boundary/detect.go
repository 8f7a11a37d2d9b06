// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package boundary

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Severity indicates how critical a detection finding is.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Valid reports whether the severity is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityBlock:
		return true
	default:
		return false
	}
}

// ParseSeverity parses a severity string (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo, nil
	case "warn":
		return SeverityWarn, nil
	case "block":
		return SeverityBlock, nil
	default:
		return "", warderr.Errorf(warderr.CodeConfigValidateInvalidValue, "invalid severity: %q", s)
	}
}

// Signature is a single injection detection pattern.
type Signature struct {
	ID       string
	Pattern  *regexp.Regexp
	Severity Severity
}

// CompileSignature builds a Signature from its textual form, as supplied by
// configuration.
func CompileSignature(id, pattern, severity string) (Signature, error) {
	if id == "" {
		return Signature{}, warderr.New(warderr.CodeBoundarySignatureInvalid, "signature id must not be empty")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Signature{}, warderr.Wrapf(err, warderr.CodeBoundarySignatureInvalid,
			"compiling pattern for signature %s", id)
	}
	sev, err := ParseSeverity(severity)
	if err != nil {
		return Signature{}, warderr.Wrapf(err, warderr.CodeBoundarySignatureInvalid,
			"parsing severity for signature %s", id)
	}
	return Signature{ID: id, Pattern: re, Severity: sev}, nil
}

// Finding describes one signature match. Start and End are byte offsets into
// the normalized text the detector was given. Findings are never mutated
// after creation.
type Finding struct {
	PatternID string
	Start     int
	End       int
	Severity  Severity
}

// Detector scans normalized text for known injection signatures. It reports
// findings and forwards each to the audit sink; it never mutates text and
// never blocks the caller's operation.
type Detector struct {
	signatures []Signature
	sink       store.AuditSink
	meter      store.AppendMeter
	log        *slog.Logger
}

// NewDetector creates a detector over the built-in signature set plus any
// extra signatures from configuration. Extra signatures are validated;
// registration order (built-ins first, extras in the order given) is
// preserved for finding tie-breaks.
func NewDetector(sink store.AuditSink, log *slog.Logger, extra ...Signature) (*Detector, error) {
	signatures := DefaultSignatures()
	for i, sig := range extra {
		if sig.ID == "" {
			return nil, warderr.Errorf(warderr.CodeBoundarySignatureInvalid, "signature %d has empty id", i)
		}
		if sig.Pattern == nil {
			return nil, warderr.Errorf(warderr.CodeBoundarySignatureInvalid, "signature %d (%s) has nil pattern", i, sig.ID)
		}
		if !sig.Severity.Valid() {
			return nil, warderr.Errorf(warderr.CodeBoundarySignatureInvalid, "signature %d (%s) has invalid severity %q", i, sig.ID, sig.Severity)
		}
		signatures = append(signatures, sig)
	}
	return &Detector{
		signatures: signatures,
		sink:       sink,
		log:        log.With("component", "detector"),
	}, nil
}

// Detect scans text for all registered signatures. Callers must normalize
// the text first; matching is case-insensitive via the patterns themselves.
//
// Findings are ordered by position in the text, ties broken by signature
// registration order. Byte-identical spans are reported once (first
// signature by registration order wins); everything else is reported even
// when overlapping. Each finding is forwarded to the audit sink best-effort:
// a sink failure is logged and never surfaced to the caller.
func (d *Detector) Detect(ctx context.Context, normalizedText string) []Finding {
	type indexed struct {
		Finding
		sigIndex int
	}

	var matches []indexed
	for i, sig := range d.signatures {
		for _, loc := range sig.Pattern.FindAllStringIndex(normalizedText, -1) {
			matches = append(matches, indexed{
				Finding: Finding{
					PatternID: sig.ID,
					Start:     loc[0],
					End:       loc[1],
					Severity:  sig.Severity,
				},
				sigIndex: i,
			})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	slices.SortStableFunc(matches, func(a, b indexed) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.sigIndex - b.sigIndex
	})

	findings := make([]Finding, 0, len(matches))
	for _, m := range matches {
		if n := len(findings); n > 0 && findings[n-1].Start == m.Start && findings[n-1].End == m.End {
			continue
		}
		findings = append(findings, m.Finding)
	}

	for _, f := range findings {
		d.recordFinding(ctx, f)
	}
	return findings
}

func (d *Detector) recordFinding(ctx context.Context, f Finding) {
	rec := store.NewRecord(uuid.NewString(), store.KindDetection, map[string]any{
		"pattern":  f.PatternID,
		"start":    f.Start,
		"end":      f.End,
		"severity": string(f.Severity),
	})
	if err := d.sink.Record(ctx, rec); err != nil {
		consecutive, total := d.meter.Failure()
		store.LogAppendFailure(ctx, d.log, consecutive, "failed to append detection record",
			slog.String("pattern", f.PatternID),
			slog.String("error", err.Error()),
			slog.Int64("consecutive_failures", consecutive),
			slog.Int64("total_failures", total),
		)
		return
	}
	d.meter.Success()
}

// DefaultSignatures returns the built-in injection signature set.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			ID:       "instruction_override",
			Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			Severity: SeverityBlock,
		},
		{
			ID:       "system_override",
			Pattern:  regexp.MustCompile(`(?i)\bsystem\s*:\s*(override|ignore|new\s+instructions)`),
			Severity: SeverityBlock,
		},
		{
			ID:       "system_tag_injection",
			Pattern:  regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>)`),
			Severity: SeverityBlock,
		},
		{
			ID:       "role_confusion",
			Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+(an?\s+)?[\w-]+`),
			Severity: SeverityWarn,
		},
		{
			ID:       "new_task_injection",
			Pattern:  regexp.MustCompile(`(?i)(new\s+task\s*:|from\s+now\s+on|pretend\s+(?:the\s+)?(?:above|previous)\s+(?:rules?|instructions?)\s+(?:do\s+not|don'?t)\s+exist)`),
			Severity: SeverityWarn,
		},
		{
			ID:       "delimiter_abuse",
			Pattern:  regexp.MustCompile("(?i)```system\\b"),
			Severity: SeverityWarn,
		},
	}
}
