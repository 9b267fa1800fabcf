// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"strings"
)

// =============================================================================
// TRAILER SPLITTER
// =============================================================================

// Backends embed a trailing metadata block inside the streamed text itself:
// a "---" line followed by an italicized "*...*" block. The splitter watches
// the fragment stream for that marker, forwards everything before it as
// visible text, and withholds everything from the marker on as out-of-band
// trailer text. The marker may arrive split across any number of fragment
// boundaries, so a suffix that could still turn into the marker is held back
// until the next fragment confirms or refutes it.
const (
	// trailerMarker is the mid-stream form: the "---" line must start on a
	// fresh line and be followed by the opening "*" of the metadata block.
	trailerMarker = "\n---\n*"

	// trailerMarkerLead is the marker without the opening "*". It is the
	// portion consumed when the marker is found; the "*" stays with the
	// trailer text.
	trailerMarkerLead = "\n---\n"

	// trailerMarkerStart is the form accepted at the very start of the
	// stream, where there is no preceding newline.
	trailerMarkerStart = "---\n*"
)

// trailerSplitter incrementally separates visible text from the trailing
// metadata block. Feed each raw fragment in order; the return value is the
// text safe to display. Call finish once the stream ends.
//
// trailerSplitter is not safe for concurrent use. It is owned by a single
// generation goroutine.
type trailerSplitter struct {
	held    []byte // undecided suffix: a proper prefix of the marker
	trailer []byte // accumulated text after a confirmed marker
	found   bool
	emitted bool // true once any visible byte has left the splitter
}

func newTrailerSplitter() *trailerSplitter {
	return &trailerSplitter{}
}

// feed consumes one raw fragment and returns the visible portion to forward,
// which may be empty while the splitter is holding a possible marker prefix.
func (t *trailerSplitter) feed(text string) string {
	if text == "" {
		return ""
	}
	if t.found {
		t.trailer = append(t.trailer, text...)
		return ""
	}

	t.held = append(t.held, text...)
	atStart := !t.emitted

	if idx, skip, ok := findTrailerMarker(t.held, atStart); ok {
		t.found = true
		visible := string(t.held[:idx])
		t.trailer = append(t.trailer, t.held[idx+skip:]...)
		t.held = nil
		if visible != "" {
			t.emitted = true
		}
		return visible
	}

	hold := trailerHold(t.held, atStart)
	if hold == len(t.held) {
		return ""
	}
	visible := string(t.held[:len(t.held)-hold])
	t.held = append(t.held[:0], t.held[len(t.held)-hold:]...)
	t.emitted = true
	return visible
}

// finish flushes the splitter at end of stream. The first return value is
// held text that never became a marker and must still be displayed; the
// second is the trailer block (starting at its "*"), trimmed of surrounding
// whitespace, or "" if no marker was seen.
func (t *trailerSplitter) finish() (string, string) {
	if t.found {
		trailer := strings.TrimSpace(string(t.trailer))
		t.trailer = nil
		return "", trailer
	}
	tail := string(t.held)
	t.held = nil
	return tail, ""
}

// findTrailerMarker locates the first complete marker in b. idx is where the
// marker begins, skip the number of bytes to drop before the trailer text
// (the lead, keeping the "*"). The start form only applies while b begins at
// stream position zero.
func findTrailerMarker(b []byte, atStart bool) (idx, skip int, ok bool) {
	if atStart && bytes.HasPrefix(b, []byte(trailerMarkerStart)) {
		return 0, len(trailerMarkerStart) - 1, true
	}
	if i := bytes.Index(b, []byte(trailerMarker)); i >= 0 {
		return i, len(trailerMarkerLead), true
	}
	return 0, 0, false
}

// trailerHold returns how many trailing bytes of b must be withheld because
// they are still a viable prefix of the marker.
func trailerHold(b []byte, atStart bool) int {
	max := len(trailerMarker) - 1
	if max > len(b) {
		max = len(b)
	}
	hold := 0
	for n := max; n > 0; n-- {
		if bytes.Equal(b[len(b)-n:], []byte(trailerMarker)[:n]) {
			hold = n
			break
		}
	}
	// At stream start the whole buffer may also be a prefix of the
	// no-leading-newline form.
	if atStart && len(b) < len(trailerMarkerStart) && bytes.HasPrefix([]byte(trailerMarkerStart), b) {
		if len(b) > hold {
			hold = len(b)
		}
	}
	return hold
}
