package audio

import "testing"

func TestParseHint(t *testing.T) {
	tests := []struct {
		name     string
		hint     string
		expected Format
		ok       bool
	}{
		{name: "bare extension", hint: "wav", expected: FormatWAV, ok: true},
		{name: "dotted extension", hint: ".m4a", expected: FormatM4A, ok: true},
		{name: "content type", hint: "audio/mpeg", expected: FormatMP3, ok: true},
		{name: "content type with params", hint: "audio/webm;codecs=opus", expected: FormatWebM, ok: true},
		{name: "mixed case", hint: "Audio/OGG", expected: FormatOGG, ok: true},
		{name: "surrounding whitespace", hint: "  mp3 ", expected: FormatMP3, ok: true},
		{name: "apple mp4 alias", hint: "audio/x-m4a", expected: FormatM4A, ok: true},
		{name: "unknown type", hint: "audio/flac", ok: false},
		{name: "not audio", hint: "application/json", ok: false},
		{name: "empty", hint: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := ParseHint(tt.hint)
			if ok != tt.ok {
				t.Fatalf("ParseHint(%q) ok = %v, want %v", tt.hint, ok, tt.ok)
			}
			if ok && f != tt.expected {
				t.Errorf("ParseHint(%q) = %q, want %q", tt.hint, f, tt.expected)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected Format
		wantErr  bool
	}{
		{name: "wav", data: sineWAV(t, 0.05, 8000), expected: FormatWAV},
		{name: "mp3 with id3 tag", data: []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), expected: FormatMP3},
		{name: "mp3 frame sync", data: []byte{0xFF, 0xFB, 0x90, 0x00}, expected: FormatMP3},
		{name: "m4a", data: []byte("\x00\x00\x00\x20ftypM4A \x00\x00\x00\x00"), expected: FormatM4A},
		{name: "ogg", data: []byte("OggS\x00\x02\x00\x00"), expected: FormatOGG},
		{name: "webm", data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x00}, expected: FormatWebM},
		{name: "empty", data: nil, wantErr: true},
		{name: "garbage", data: []byte("not audio at all"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DetectFormat(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DetectFormat expected error, got %q", f)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectFormat failed: %v", err)
			}
			if f != tt.expected {
				t.Errorf("DetectFormat = %q, want %q", f, tt.expected)
			}
		})
	}
}
