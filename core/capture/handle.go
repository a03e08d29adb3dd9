package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-coach/core/audio"
)

// Handle is one exclusive acquisition of a [Capturer].
type Handle struct {
	capturer *Capturer
	encoding audio.EncodingInfo
	cancel   context.CancelFunc

	mu       sync.Mutex
	buffered []byte
	nextSeq  uint64
	released bool

	// dataReady is signalled (without blocking) whenever audio is appended.
	dataReady  chan struct{}
	releasedCh chan struct{}

	capturing   atomic.Bool
	releaseOnce sync.Once
}

func newHandle(capturer *Capturer, encoding audio.EncodingInfo) *Handle {
	return &Handle{
		capturer:   capturer,
		encoding:   encoding,
		cancel:     func() {},
		dataReady:  make(chan struct{}, 1),
		releasedCh: make(chan struct{}),
	}
}

func (h *Handle) EncodingInfo() audio.EncodingInfo { return h.encoding }

// Released is closed once Release has taken effect.
func (h *Handle) Released() <-chan struct{} { return h.releasedCh }

func (h *Handle) onAudio(data []byte) {
	if len(data) == 0 {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	// Device callbacks reuse their buffers.
	h.buffered = append(h.buffered, data...)
	h.mu.Unlock()

	select {
	case h.dataReady <- struct{}{}:
	default:
	}
}

// CaptureChunk blocks until d worth of audio has been captured, the handle is
// released, or ctx is done, and returns exactly one chunk. A full-duration
// chunk is never empty. When the handle is released mid-chunk the audio
// captured so far is returned; once nothing is left it returns ErrReleased.
//
// CaptureChunk must not be called concurrently on the same handle.
func (h *Handle) CaptureChunk(ctx context.Context, d time.Duration) (audio.Chunk, error) {
	want := h.encoding.BytesFor(d)
	if want <= 0 {
		return audio.Chunk{}, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}

	if !h.capturing.CompareAndSwap(false, true) {
		return audio.Chunk{}, ErrConcurrentCapture
	}
	defer h.capturing.Store(false)

	for {
		h.mu.Lock()
		if len(h.buffered) >= want {
			chunk := h.takeLocked(want)
			h.mu.Unlock()
			return chunk, nil
		}
		if h.released {
			if len(h.buffered) > 0 {
				chunk := h.takeLocked(len(h.buffered))
				h.mu.Unlock()
				return chunk, nil
			}
			h.mu.Unlock()
			return audio.Chunk{}, ErrReleased
		}
		h.mu.Unlock()

		select {
		case <-h.dataReady:
		case <-h.releasedCh:
		case <-ctx.Done():
			return audio.Chunk{}, ctx.Err()
		}
	}
}

func (h *Handle) takeLocked(n int) audio.Chunk {
	data := make([]byte, n)
	copy(data, h.buffered[:n])
	h.buffered = h.buffered[n:]
	if len(h.buffered) == 0 {
		h.buffered = nil
	}

	chunk := audio.Chunk{
		Seq:        h.nextSeq,
		Data:       data,
		Duration:   h.encoding.DurationOf(n),
		CapturedAt: time.Now(),
	}
	h.nextSeq++
	return chunk
}

// Release stops the device and frees the capturer for the next Acquire. Only
// the first call has any effect; later calls return nil.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}

	var err error
	h.releaseOnce.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()

		h.cancel()
		if stopErr := h.capturer.device.StopCapture(); stopErr != nil {
			err = fmt.Errorf("failed to stop audio device: %w", stopErr)
		}

		h.capturer.vacate(h)
		close(h.releasedCh)
	})
	return err
}
