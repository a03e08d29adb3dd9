package audio

import (
	"testing"
	"time"
)

func TestBytesForDefaultEncoding(t *testing.T) {
	encoding := GetDefaultEncodingInfo()

	if got, want := encoding.BytesFor(time.Second), 32000; got != want {
		t.Fatalf("expected %d bytes for one second, got %d", want, got)
	}
	if got, want := encoding.BytesFor(50*time.Millisecond), 1600; got != want {
		t.Fatalf("expected %d bytes for 50ms, got %d", want, got)
	}
}

func TestBytesForRoundsDownToWholeFrame(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 16000, Format: EncodingLinear16, Channels: 2}

	got := encoding.BytesFor(time.Millisecond + time.Microsecond)
	if got%4 != 0 {
		t.Fatalf("expected whole stereo frames, got %d bytes", got)
	}
}

func TestBytesForUnknownFormatIsZero(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 16000, Format: encodingFormat("opus")}

	if got := encoding.BytesFor(time.Second); got != 0 {
		t.Fatalf("expected 0 bytes for unknown format, got %d", got)
	}
}

func TestDurationOfInvertsBytesFor(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 8000, Format: EncodingMulaw}

	if got := encoding.DurationOf(encoding.BytesFor(250 * time.Millisecond)); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
}

func TestParseEncoding(t *testing.T) {
	if _, ok := ParseEncoding("linear16"); !ok {
		t.Fatalf("expected linear16 to parse")
	}
	if _, ok := ParseEncoding("flac"); ok {
		t.Fatalf("expected flac to be rejected")
	}
}
