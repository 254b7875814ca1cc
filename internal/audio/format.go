package audio

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Format identifies an audio container accepted at the voice-loop boundary.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatOGG  Format = "ogg"
	FormatWebM Format = "webm"
)

// hintAliases maps content-type values and bare extensions to formats.
var hintAliases = map[string]Format{
	"wav":         FormatWAV,
	"audio/wav":   FormatWAV,
	"audio/wave":  FormatWAV,
	"audio/x-wav": FormatWAV,
	"mp3":         FormatMP3,
	"audio/mp3":   FormatMP3,
	"audio/mpeg":  FormatMP3,
	"m4a":         FormatM4A,
	"audio/m4a":   FormatM4A,
	"audio/mp4":   FormatM4A,
	"audio/x-m4a": FormatM4A,
	"ogg":         FormatOGG,
	"audio/ogg":   FormatOGG,
	"webm":        FormatWebM,
	"audio/webm":  FormatWebM,
}

// ParseHint resolves a caller-supplied format hint (content type or file
// extension, with or without a leading dot) to a supported format.
func ParseHint(hint string) (Format, bool) {
	normalized := strings.ToLower(strings.TrimSpace(hint))
	normalized = strings.TrimPrefix(normalized, ".")

	// Content types may carry parameters, e.g. "audio/webm;codecs=opus".
	if idx := strings.IndexByte(normalized, ';'); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}

	f, ok := hintAliases[normalized]
	return f, ok
}

// DetectFormat sniffs the container of an audio payload from its magic bytes.
// It returns an error when the payload is empty or matches no supported container.
func DetectFormat(data []byte) (Format, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, nil
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && (data[1]&0xE0) == 0xE0:
		// MPEG audio frame sync without an ID3 tag
		return FormatMP3, nil
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A, nil
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOGG, nil
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM, nil
	default:
		return "", fmt.Errorf("unrecognized audio container (%d bytes)", len(data))
	}
}

// Duration reports the playback duration of a payload where the container
// makes it cheap to compute. Only WAV carries enough header information for an
// exact answer; for compressed containers it returns ok=false and callers fall
// back to payload-size checks.
func Duration(data []byte) (time.Duration, bool) {
	format, err := DetectFormat(data)
	if err != nil || format != FormatWAV {
		return 0, false
	}

	seconds, err := wavDurationSeconds(data)
	if err != nil {
		return 0, false
	}

	return time.Duration(seconds * float64(time.Second)), true
}
