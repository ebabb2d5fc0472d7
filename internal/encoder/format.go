// Package encoder turns live stream samples into timed, encoded chunks.
package encoder

import (
	"errors"
	"fmt"
	"strings"
)

// Format is a MIME type naming a chunk encoding
type Format string

const (
	// FormatWAV emits each chunk as a self-contained 16-bit mono WAV file.
	FormatWAV Format = "audio/wav"
	// FormatPCM emits raw signed 16-bit little-endian mono samples.
	FormatPCM Format = "audio/pcm"
)

// ErrNoSupportedFormat is returned when none of the requested formats can
// be produced.
var ErrNoSupportedFormat = errors.New("no supported encoding format")

var supported = []Format{FormatWAV, FormatPCM}

// Supported lists the formats this package encodes, most preferred first.
func Supported() []Format {
	out := make([]Format, len(supported))
	copy(out, supported)
	return out
}

// IsSupported reports whether f can be encoded. Parameters such as
// ";codecs=1" and letter case are ignored.
func IsSupported(f Format) bool {
	n := normalize(f)
	for _, s := range supported {
		if n == s {
			return true
		}
	}
	return false
}

// Resolve picks the first supported format from preferred. With no
// preference the package default is used.
func Resolve(preferred ...Format) (Format, error) {
	if len(preferred) == 0 {
		return supported[0], nil
	}
	for _, f := range preferred {
		if IsSupported(f) {
			return normalize(f), nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrNoSupportedFormat, preferred)
}

// ParseFormats converts configured strings into formats.
func ParseFormats(names []string) []Format {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, Format(n))
		}
	}
	return out
}

func normalize(f Format) Format {
	s := strings.ToLower(strings.TrimSpace(string(f)))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "audio/wave", "audio/x-wav":
		s = string(FormatWAV)
	}
	return Format(s)
}
