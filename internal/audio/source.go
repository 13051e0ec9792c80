package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Source delivers raw little-endian 16-bit mono PCM at SampleRate.
// Run blocks until the source is exhausted, fails, or ctx is cancelled, calling
// onData from a single goroutine. onData must not retain the buffer.
type Source interface {
	SampleRate() int
	Run(ctx context.Context, onData func([]byte)) error
}

// DefaultChunkSize is the read size for stream-backed sources (100ms at 16kHz)
const DefaultChunkSize = 3200

// ReaderSource streams raw PCM from an io.Reader
type ReaderSource struct {
	reader     io.Reader
	sampleRate int
	chunkSize  int
	pace       bool
}

// NewReaderSource creates a source reading PCM at sampleRate from r.
// When pace is true chunks are delivered in real time instead of as fast as possible.
func NewReaderSource(r io.Reader, sampleRate int, pace bool) *ReaderSource {
	return &ReaderSource{
		reader:     r,
		sampleRate: sampleRate,
		chunkSize:  DefaultChunkSize,
		pace:       pace,
	}
}

// SampleRate returns the PCM sample rate
func (s *ReaderSource) SampleRate() int {
	return s.sampleRate
}

// Run reads until EOF or ctx is done
func (s *ReaderSource) Run(ctx context.Context, onData func([]byte)) error {
	return streamPCM(ctx, s.reader, s.chunkSize, s.chunkDuration(), onData)
}

func (s *ReaderSource) chunkDuration() time.Duration {
	if !s.pace || s.sampleRate <= 0 {
		return 0
	}
	samples := s.chunkSize / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

// streamPCM reads fixed-size chunks from r, keeping sample alignment across reads
func streamPCM(ctx context.Context, r io.Reader, chunkSize int, pace time.Duration, onData func([]byte)) error {
	buf := make([]byte, chunkSize)
	var ticker *time.Ticker
	if pace > 0 {
		ticker = time.NewTicker(pace)
		defer ticker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			onData(buf[:n&^1])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read audio: %w", err)
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// CommandSource captures audio by running an external recorder (sox, arecord, ffmpeg)
// that writes raw 16-bit mono PCM to stdout
type CommandSource struct {
	command    string
	sampleRate int
}

// NewCommandSource creates a capture source from a shell-style command line
func NewCommandSource(command string, sampleRate int) *CommandSource {
	return &CommandSource{
		command:    command,
		sampleRate: sampleRate,
	}
}

// SampleRate returns the capture sample rate
func (s *CommandSource) SampleRate() int {
	return s.sampleRate
}

// Run starts the capture command and streams its stdout until ctx is cancelled
func (s *CommandSource) Run(ctx context.Context, onData func([]byte)) error {
	args := strings.Fields(s.command)
	if len(args) == 0 {
		return fmt.Errorf("capture command is empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open capture stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start capture command %q: %w", args[0], err)
	}

	readErr := streamPCM(ctx, bufio.NewReader(stdout), DefaultChunkSize, 0, onData)
	waitErr := cmd.Wait()

	if readErr != nil {
		return readErr
	}
	if waitErr != nil && ctx.Err() == nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("capture command exited: %w", waitErr)
		}
		return waitErr
	}
	return nil
}

// WAVSource streams a WAV file as 16-bit mono PCM at the file's sample rate
type WAVSource struct {
	file       *os.File
	decoder    *wav.Decoder
	sampleRate int
	channels   int
	bitDepth   int
	pace       bool
}

// OpenWAV opens path and validates its header.
// When pace is true the file is streamed in real time.
func OpenWAV(path string, pace bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	decoder.ReadInfo()
	if decoder.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported WAV format %d (only PCM)", path, decoder.WavAudioFormat)
	}

	return &WAVSource{
		file:       f,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		bitDepth:   int(decoder.BitDepth),
		pace:       pace,
	}, nil
}

// SampleRate returns the file sample rate
func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

// Duration returns the length of the audio
func (s *WAVSource) Duration() (time.Duration, error) {
	return s.decoder.Duration()
}

// Close releases the underlying file
func (s *WAVSource) Close() error {
	return s.file.Close()
}

// Run decodes the file in 100ms blocks, downmixing and rescaling to 16-bit mono
func (s *WAVSource) Run(ctx context.Context, onData func([]byte)) error {
	if s.channels <= 0 || s.sampleRate <= 0 {
		return fmt.Errorf("invalid WAV format: %d channels at %d Hz", s.channels, s.sampleRate)
	}

	frames := s.sampleRate / 10
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		Data:   make([]int, frames*s.channels),
	}

	var ticker *time.Ticker
	if s.pace {
		ticker = time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := s.decoder.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode WAV: %w", err)
		}
		if n == 0 {
			return nil
		}

		samples := buf.Data[:n]
		if s.bitDepth == 8 {
			// 8-bit WAV is unsigned
			for i := range samples {
				samples[i] -= 128
			}
		}
		mono := DownmixToMono(samples, s.channels)
		onData(SamplesToBytes(ScaleToPCM16(mono, s.bitDepth)))

		if err == io.EOF {
			return nil
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
