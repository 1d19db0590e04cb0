// Package frame decodes notification payloads from the pressure insole into
// fixed-width samples, and encodes the tagged-text wire format the insole
// firmware emits. Parsing is strict about shape but never judges value
// plausibility: a channel reading of 255 is a real reading, not an error.
package frame

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channels is the number of pressure points on one insole.
const Channels = 8

// MaxValue is the upper clamp bound for a channel reading.
const MaxValue = 255

// Wire tags for the text encoding. The tag identifies which foot the frame
// was captured on; both are accepted regardless of the configured side.
const (
	TagLeft  = "PRESSURE_LEFT:"
	TagRight = "PRESSURE_RIGHT:"
)

// minUntaggedFields guards the untagged CSV decoding against accepting
// unrelated text (version strings, status lines) as pressure data.
const minUntaggedFields = 4

// Side identifies which foot a sample belongs to.
type Side int

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the side as its label, for exported reports.
func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseSide maps a user-facing side label to a Side.
func ParseSide(label string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "left", "l":
		return SideLeft, nil
	case "right", "r":
		return SideRight, nil
	default:
		return SideUnknown, fmt.Errorf("invalid side %q (must be left or right)", label)
	}
}

// Sample is one decoded pressure frame: exactly Channels readings, each in
// [0, MaxValue], plus the capture timestamp. Immutable once produced.
type Sample struct {
	Values     [Channels]int
	Side       Side
	CapturedAt time.Time
}

// ParseError reports a payload that matched none of the accepted encodings.
// It carries the original text for the diagnostic log; callers log it and
// continue, it is never counted as a sample.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized frame: %q", e.Raw)
}

// Parse decodes one notification payload. Accepted encodings, tried in order:
//
//  1. Tagged text: "PRESSURE_LEFT:" or "PRESSURE_RIGHT:" followed by a
//     comma-separated integer list.
//  2. Untagged CSV: comma-separated integers with at least four valid
//     numeric entries.
//  3. Raw byte vector: exactly Channels bytes, one per channel.
//
// Text values are clamped to [0, MaxValue] and non-numeric entries become 0.
// Short lists are right-padded with zeros, long lists truncated to Channels.
func Parse(raw []byte) (Sample, error) {
	return ParseAt(raw, time.Now())
}

// ParseAt is Parse with an explicit capture timestamp.
func ParseAt(raw []byte, ts time.Time) (Sample, error) {
	text := strings.TrimSpace(string(raw))

	if rest, ok := strings.CutPrefix(text, TagLeft); ok {
		return Sample{Values: parseCSV(rest), Side: SideLeft, CapturedAt: ts}, nil
	}
	if rest, ok := strings.CutPrefix(text, TagRight); ok {
		return Sample{Values: parseCSV(rest), Side: SideRight, CapturedAt: ts}, nil
	}

	if countNumericFields(text) >= minUntaggedFields {
		return Sample{Values: parseCSV(text), CapturedAt: ts}, nil
	}

	if len(raw) == Channels {
		var values [Channels]int
		for i, b := range raw {
			values[i] = int(b)
		}
		return Sample{Values: values, CapturedAt: ts}, nil
	}

	return Sample{}, &ParseError{Raw: text}
}

// EncodeTagged renders values in the tagged-text wire format. The simulator
// uses this so simulated and real frames are indistinguishable at the parser
// boundary.
func EncodeTagged(side Side, values [Channels]int) []byte {
	tag := TagLeft
	if side == SideRight {
		tag = TagRight
	}

	var b strings.Builder
	b.WriteString(tag)
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(Clamp(v)))
	}
	return []byte(b.String())
}

// Clamp limits a reading to [0, MaxValue].
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxValue {
		return MaxValue
	}
	return v
}

// parseCSV decodes a comma-separated value list into a fixed-width vector:
// clamp each entry, zero the unparseable ones, truncate past Channels,
// right-pad with zeros.
func parseCSV(text string) [Channels]int {
	var values [Channels]int
	for i, field := range strings.Split(text, ",") {
		if i >= Channels {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue // non-numeric entry reads as 0
		}
		values[i] = Clamp(n)
	}
	return values
}

// countNumericFields reports how many comma-separated entries parse as
// integers.
func countNumericFields(text string) int {
	count := 0
	for _, field := range strings.Split(text, ",") {
		if _, err := strconv.Atoi(strings.TrimSpace(field)); err == nil {
			count++
		}
	}
	return count
}
