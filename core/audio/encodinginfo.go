package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
	DefaultChannels   = 1
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat), Channels: DefaultChannels}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	Channels   int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return DefaultChannels
	}
	return e.Channels
}

// BytesPerSecond returns how many bytes of audio a device produces per second
// of capture, or 0 for unknown formats.
func (e EncodingInfo) BytesPerSecond() int {
	size := e.Format.ByteSize()
	if size <= 0 || e.SampleRate <= 0 {
		return 0
	}
	return e.SampleRate * size * e.channels()
}

// BytesFor returns the number of bytes holding d worth of audio, rounded down
// to a whole frame.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	bytesPerSecond := e.BytesPerSecond()
	if bytesPerSecond == 0 || d <= 0 {
		return 0
	}

	frameSize := e.Format.ByteSize() * e.channels()
	n := int(int64(bytesPerSecond) * int64(d) / int64(time.Second))
	return n - n%frameSize
}

// DurationOf is the inverse of BytesFor.
func (e EncodingInfo) DurationOf(n int) time.Duration {
	bytesPerSecond := e.BytesPerSecond()
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case encodingFormat("alaw"):
		return 0x55
	case encodingFormat("mulaw"):
		return 0xFF
	case encodingFormat("linear16"):
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case encodingFormat("mulaw"), encodingFormat("alaw"):
		return 1
	case encodingFormat("linear16"):
		return 2
	}
	return -1
}

// ParseEncoding maps a format name to one of the known encodings.
func ParseEncoding(name string) (encodingFormat, bool) {
	switch encodingFormat(name) {
	case EncodingMulaw, EncodingALaw, EncodingLinear16:
		return encodingFormat(name), true
	}
	return "", false
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
