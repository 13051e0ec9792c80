package audio

import (
	"sync"
	"time"
)

// Streaming format expected by the recognition service
const (
	TargetSampleRate = 16000
	BytesPerSample   = 2 // 16-bit mono
	SegmentDuration  = 200 * time.Millisecond
)

// SegmentSize is the byte length of one 200ms segment at 16kHz 16-bit mono (6400)
var SegmentSize = SegmentSizeFor(TargetSampleRate, SegmentDuration)

// SegmentSizeFor returns the number of bytes of 16-bit mono PCM covering duration at rate
func SegmentSizeFor(sampleRate int, duration time.Duration) int {
	samples := int(int64(sampleRate) * int64(duration) / int64(time.Second))
	return samples * BytesPerSample
}

// Segmenter accumulates PCM and cuts it into fixed-size segments.
// Every segment returned by Append is exactly the configured size; only Flush
// can return a shorter one.
type Segmenter struct {
	size   int
	buffer []byte
	mu     sync.Mutex
}

// NewSegmenter creates a segmenter emitting segments of size bytes.
// A non-positive size selects SegmentSize.
func NewSegmenter(size int) *Segmenter {
	if size <= 0 {
		size = SegmentSize
	}
	return &Segmenter{
		size:   size,
		buffer: make([]byte, 0, size*2),
	}
}

// Size returns the segment length in bytes
func (s *Segmenter) Size() int {
	return s.size
}

// Append buffers pcm and returns every complete segment now available, oldest first.
// The returned slices are owned by the caller.
func (s *Segmenter) Append(pcm []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, pcm...)

	var segments [][]byte
	for len(s.buffer) >= s.size {
		segment := make([]byte, s.size)
		copy(segment, s.buffer[:s.size])
		segments = append(segments, segment)

		s.buffer = s.buffer[:copy(s.buffer, s.buffer[s.size:])]
	}

	return segments
}

// Flush returns the buffered remainder (0 to size-1 bytes) and clears the buffer.
// It returns nil when nothing is buffered.
func (s *Segmenter) Flush() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil
	}

	rest := make([]byte, len(s.buffer))
	copy(rest, s.buffer)
	s.buffer = s.buffer[:0]
	return rest
}

// Buffered returns the number of bytes waiting for a full segment
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Reset discards any buffered audio
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = s.buffer[:0]
}
