// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package boundary

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

const (
	// OpenMarker and CloseMarker delimit a block of untrusted external
	// content inside a prompt.
	OpenMarker  = "<<<EXTERNAL_UNTRUSTED_CONTENT>>>"
	CloseMarker = "<<<END_EXTERNAL_UNTRUSTED_CONTENT>>>"

	// SanitizedPlaceholder replaces every neutralized marker occurrence.
	SanitizedPlaceholder = "[[MARKER_SANITIZED]]"
)

// Markers is the boundary marker pair the sanitizer neutralizes.
type Markers struct {
	Open  string
	Close string
}

// DefaultMarkers returns the fixed marker pair used by the wrapper.
func DefaultMarkers() Markers {
	return Markers{Open: OpenMarker, Close: CloseMarker}
}

// Sanitizer neutralizes boundary marker literals found inside untrusted
// text, so an adversary cannot forge a fake boundary closure. It must run on
// normalized text; width-folded marker variants are expected to already be
// collapsed to the literal form.
type Sanitizer struct {
	sink  store.AuditSink
	meter store.AppendMeter
	log   *slog.Logger
}

// NewSanitizer creates a sanitizer writing forensic records to sink.
func NewSanitizer(sink store.AuditSink, log *slog.Logger) *Sanitizer {
	return &Sanitizer{sink: sink, log: log.With("component", "sanitizer")}
}

// maxSanitizePasses bounds the replace-and-recheck loop. One pass suffices
// for every known input shape; the loop guards against replacement itself
// exposing a previously split occurrence.
const maxSanitizePasses = 8

// Sanitize replaces every occurrence of the marker literals in text with
// SanitizedPlaceholder. Occurrences are found two ways: literally, and in a
// shadow copy of the text with control and format characters stripped, which
// catches markers split across line boundaries or padded with embedded
// control characters. A marker found in the shadow is neutralized in the
// original by span mapping.
//
// Postcondition: the returned text contains zero occurrences of either
// marker, in literal or control-stripped form. If that cannot be
// established, Sanitize returns a sanitization violation error and no text;
// callers must abort rather than use the input.
//
// Each replacement is recorded to the audit sink with the matched span, not
// the matched text. Sink failures are logged and do not fail sanitization;
// the postcondition is enforced regardless of sink state.
func (s *Sanitizer) Sanitize(ctx context.Context, text string, m Markers) (string, error) {
	if m.Open == "" || m.Close == "" {
		return "", warderr.New(warderr.CodeBoundaryContentInvalid, "boundary markers must not be empty")
	}

	for pass := 0; pass < maxSanitizePasses; pass++ {
		spans := findMarkerSpans(text, m)
		if len(spans) == 0 {
			return text, nil
		}
		for _, sp := range spans {
			s.recordSanitization(ctx, sp)
		}
		text = replaceSpans(text, spans)
	}

	return "", warderr.New(warderr.CodeBoundarySanitizeViolation,
		"marker occurrences remained after sanitization",
		warderr.Field("passes", maxSanitizePasses))
}

type markerSpan struct {
	start, end int
	marker     string // "open" or "close"
}

// findMarkerSpans returns the merged, position-sorted spans of every marker
// occurrence in text, literal or control-stripped.
func findMarkerSpans(text string, m Markers) []markerSpan {
	var spans []markerSpan
	spans = appendLiteralSpans(spans, text, m.Close, "close")
	spans = appendLiteralSpans(spans, text, m.Open, "open")

	shadow, offsets := stripShadow(text)
	if shadow != text {
		spans = appendShadowSpans(spans, shadow, offsets, m.Close, "close")
		spans = appendShadowSpans(spans, shadow, offsets, m.Open, "open")
	}

	return mergeSpans(spans)
}

func appendLiteralSpans(spans []markerSpan, text, marker, label string) []markerSpan {
	for pos := 0; ; {
		idx := strings.Index(text[pos:], marker)
		if idx < 0 {
			return spans
		}
		start := pos + idx
		spans = append(spans, markerSpan{start: start, end: start + len(marker), marker: label})
		pos = start + len(marker)
	}
}

// stripShadow builds a copy of text without control (Cc) and format (Cf)
// characters, plus a byte-offset mapping from shadow positions back to the
// original. offsets has len(shadow)+1 entries; the final entry maps one past
// the last kept byte.
func stripShadow(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		if unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		for j := 0; j < utf8.RuneLen(r); j++ {
			offsets = append(offsets, i+j)
		}
		b.WriteRune(r)
	}
	offsets = append(offsets, len(text))
	return b.String(), offsets
}

func appendShadowSpans(spans []markerSpan, shadow string, offsets []int, marker, label string) []markerSpan {
	for pos := 0; ; {
		idx := strings.Index(shadow[pos:], marker)
		if idx < 0 {
			return spans
		}
		start := pos + idx
		end := start + len(marker)
		spans = append(spans, markerSpan{start: offsets[start], end: offsets[end], marker: label})
		pos = end
	}
}

// mergeSpans sorts spans by position and merges overlapping ones, keeping
// the earlier span's marker label.
func mergeSpans(spans []markerSpan) []markerSpan {
	if len(spans) < 2 {
		return spans
	}

	slices.SortFunc(spans, func(a, b markerSpan) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return a.end - b.end
	})

	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// replaceSpans substitutes SanitizedPlaceholder for each span. Spans must be
// sorted and non-overlapping (mergeSpans guarantees both).
func replaceSpans(text string, spans []markerSpan) string {
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, sp := range spans {
		b.WriteString(text[pos:sp.start])
		b.WriteString(SanitizedPlaceholder)
		pos = sp.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

func (s *Sanitizer) recordSanitization(ctx context.Context, sp markerSpan) {
	rec := store.NewRecord(uuid.NewString(), store.KindSanitization, map[string]any{
		"marker": sp.marker,
		"start":  sp.start,
		"end":    sp.end,
	})
	if err := s.sink.Record(ctx, rec); err != nil {
		consecutive, total := s.meter.Failure()
		store.LogAppendFailure(ctx, s.log, consecutive, "failed to append sanitization record",
			slog.String("marker", sp.marker),
			slog.String("error", err.Error()),
			slog.Int64("consecutive_failures", consecutive),
			slog.Int64("total_failures", total),
		)
		return
	}
	s.meter.Success()
}
