package audio

import "time"

// Chunk is one slice of captured audio. Seq is assigned by the capturer that
// produced it and increases by one per chunk within a single acquisition.
type Chunk struct {
	Seq        uint64
	Data       []byte
	Duration   time.Duration
	CapturedAt time.Time
}

func (c Chunk) Len() int { return len(c.Data) }

func (c Chunk) IsEmpty() bool { return len(c.Data) == 0 }
