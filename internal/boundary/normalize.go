// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package boundary implements the trust boundary enforcement layer: unicode
// normalization of untrusted text, injection signature detection, boundary
// marker sanitization, and the external content wrapper that composes them
// into a prompt-safe delimited block.
package boundary

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters so they cannot be used to split marker literals or injection
// phrases. Allocated once at package init.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
	"\u206a", "", // inhibit symmetric swapping
	"\u206b", "", // activate symmetric swapping
	"\u206c", "", // inhibit Arabic form shaping
	"\u206d", "", // activate Arabic form shaping
	"\u206e", "", // national digit shapes
	"\u206f", "", // nominal digit shapes
	"\ufff9", "", // interlinear annotation anchor
	"\ufffa", "", // interlinear annotation separator
	"\ufffb", "", // interlinear annotation terminator
)

// Normalize folds visually-confusable characters to a canonical,
// ASCII-comparable form: it strips invisible characters, applies NFKC
// normalization (which collapses fullwidth Latin letters, digits, and
// punctuation to their standard-width equivalents), and folds the angle
// bracket code points NFKC leaves untouched down to ASCII.
//
// Normalize is pure and idempotent. It never fails; input with nothing to
// fold is returned unchanged.
func Normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	s = norm.NFKC.String(s)
	// NFKC can in principle surface compatibility characters whose
	// decomposition contains strippable code points; a second strip keeps
	// the function idempotent.
	s = invisibleCharReplacer.Replace(s)
	return strings.Map(foldAngleBracket, s)
}

// foldAngleBracket maps the angle bracket variants that survive NFKC to
// ASCII. NFKC already folds fullwidth brackets to ASCII and canonically maps
// U+2329/U+232A to the CJK pair, so only the CJK and mathematical pairs
// remain.
func foldAngleBracket(r rune) rune {
	switch r {
	case '\u3008', '\u27e8': // CJK and mathematical left angle bracket
		return '<'
	case '\u3009', '\u27e9': // CJK and mathematical right angle bracket
		return '>'
	default:
		return r
	}
}
