package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seedling/dictation-daemon/internal/asr"
	"github.com/seedling/dictation-daemon/internal/audio"
	"github.com/seedling/dictation-daemon/internal/observability"
	"github.com/seedling/dictation-daemon/internal/protocol"
	"github.com/seedling/dictation-daemon/internal/resilience"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is in progress
	ErrAlreadyRecording = errors.New("recording is already in progress")

	// ErrNotRecording is returned by Stop and Cancel when nothing is being recorded
	ErrNotRecording = errors.New("no recording in progress")
)

// trailingPunctuation is removed from the end of a finished transcript
const trailingPunctuation = ".,!?;:。，！？；：、…~～"

// Transcriber is the streaming recognition session the recorder drives
type Transcriber interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	SendFinalFrame() error
	WaitForFinalResult(ctx context.Context, timeout time.Duration) (*protocol.Response, bool)
	Disconnect() error
	Results() <-chan *protocol.Response
}

// SourceFactory opens a fresh audio source for each recording
type SourceFactory func() (audio.Source, error)

// Options tunes a Recorder
type Options struct {
	QueueCapacity              int
	FinalResultTimeout         time.Duration
	RecordingDir               string // Each finished recording is saved here as WAV when set
	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration
}

// Summary describes a finished recording
type Summary struct {
	Text     string
	Duration time.Duration
	Chars    int
}

// Status is a point-in-time view of the recorder
type Status struct {
	Recording    bool
	SessionID    string
	Text         string
	Duration     time.Duration
	Level        float64 // RMS of the latest capture buffer, 0..1
	Speaking     bool
	LastText     string
	LastDuration time.Duration
	LastError    string
}

// recording holds the resources of one Start..Stop cycle
type recording struct {
	id            string
	startedAt     time.Time
	sampleRate    int
	logger        zerolog.Logger
	cancelCapture context.CancelFunc
	queue         *audio.DropOldestQueue
	resampler     *audio.Resampler // Only used by the consumer until capture stops
	segmenter     *audio.Segmenter
	speech        *audio.SpeechDetector
	group         errgroup.Group
	captureDone   chan struct{}
	consumerDone  chan struct{}
	readerDone    chan struct{}
	pcm           bytes.Buffer // Only written by the consumer
}

// Recorder ties an audio source to a transcriber: capture callback -> drop-oldest
// queue -> single consumer -> segmenter -> transcriber. Start, Stop and Cancel
// are serialized; Status never blocks on them.
type Recorder struct {
	transcriber Transcriber
	newSource   SourceFactory
	breaker     *resilience.CircuitBreaker
	opts        Options
	logger      zerolog.Logger
	onText      func(string)

	lifecycle sync.Mutex
	current   *recording

	mu           sync.RWMutex
	recording    bool
	sessionID    string
	startedAt    time.Time
	text         string
	level        float64
	speaking     bool
	lastText     string
	lastDuration time.Duration
	lastError    string
	captureDone  chan struct{}
}

// New creates a recorder
func New(transcriber Transcriber, newSource SourceFactory, opts Options, logger zerolog.Logger) *Recorder {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = audio.DefaultQueueCapacity
	}
	if opts.FinalResultTimeout <= 0 {
		opts.FinalResultTimeout = asr.DefaultFinalResultTimeout
	}
	if opts.CircuitBreakerResetTimeout <= 0 {
		opts.CircuitBreakerResetTimeout = 30 * time.Second
	}

	breaker := resilience.NewCircuitBreaker("asr", opts.CircuitBreakerMaxFailures, opts.CircuitBreakerResetTimeout)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().Str("service", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState("asr", int(resilience.StateClosed))

	closed := make(chan struct{})
	close(closed)

	return &Recorder{
		transcriber: transcriber,
		newSource:   newSource,
		breaker:     breaker,
		opts:        opts,
		logger:      logger.With().Str("component", "recorder").Logger(),
		captureDone: closed,
	}
}

// OnText registers a callback for every transcript update. Set it before Start.
func (r *Recorder) OnText(fn func(text string)) {
	r.mu.Lock()
	r.onText = fn
	r.mu.Unlock()
}

// IsRecording reports whether a recording is in progress
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// CaptureDone is closed when the audio source of the current recording stops by itself
// or is stopped. It is already closed when nothing is recording.
func (r *Recorder) CaptureDone() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.captureDone
}

// Ready reports whether a connection attempt would be allowed
func (r *Recorder) Ready(ctx context.Context) (bool, error) {
	if r.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// Start connects to the service and begins capturing
func (r *Recorder) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.current != nil {
		return ErrAlreadyRecording
	}

	id := observability.NewSessionID()
	logger := observability.WithSessionID(r.logger, id)

	source, err := r.newSource()
	if err != nil {
		r.setError(err)
		return fmt.Errorf("failed to open audio source: %w", err)
	}
	resampler, err := audio.NewResampler(source.SampleRate(), audio.TargetSampleRate)
	if err != nil {
		r.setError(err)
		return fmt.Errorf("unsupported audio source: %w", err)
	}

	err = r.breaker.Call(ctx, r.transcriber.Connect)
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures("asr")
		}
		r.setError(err)
		logger.Error().Err(err).Msg("Failed to start recording")
		return fmt.Errorf("failed to connect: %w", err)
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		id:            id,
		startedAt:     time.Now(),
		sampleRate:    source.SampleRate(),
		logger:        logger,
		cancelCapture: cancel,
		queue:         audio.NewDropOldestQueue(r.opts.QueueCapacity),
		resampler:     resampler,
		segmenter:     audio.NewSegmenter(audio.SegmentSize),
		speech:        audio.NewSpeechDetector(audio.DefaultSpeechDetectorConfig()),
		captureDone:   make(chan struct{}),
		consumerDone:  make(chan struct{}),
		readerDone:    make(chan struct{}),
	}
	results := r.transcriber.Results()

	r.mu.Lock()
	r.recording = true
	r.sessionID = id
	r.startedAt = rec.startedAt
	r.text = ""
	r.level = 0
	r.speaking = false
	r.lastError = ""
	r.captureDone = rec.captureDone
	r.mu.Unlock()

	rec.group.Go(func() error { return r.capture(captureCtx, rec, source) })
	rec.group.Go(func() error { r.consume(rec); return nil })
	rec.group.Go(func() error { r.readResults(rec, results); return nil })

	r.current = rec
	logger.Info().Int("sample_rate", rec.sampleRate).Msg("Recording started")
	return nil
}

// capture runs the source; the callback only copies into the queue
func (r *Recorder) capture(ctx context.Context, rec *recording, source audio.Source) error {
	defer close(rec.captureDone)
	defer rec.queue.Close()

	err := source.Run(ctx, func(buf []byte) {
		observability.RecordCapturedBytes(len(buf))
		level := audio.Level(buf)
		r.mu.Lock()
		r.level = level
		r.mu.Unlock()

		if rec.queue.Push(buf) {
			observability.RecordDroppedBuffer()
			rec.logger.Debug().Msg("Audio queue full, dropped oldest buffer")
		}
	})
	if err != nil {
		rec.logger.Error().Err(err).Msg("Audio capture failed")
		r.setError(err)
		return err
	}
	rec.logger.Debug().Msg("Audio capture ended")
	return nil
}

// consume is the single long-lived consumer of the capture queue
func (r *Recorder) consume(rec *recording) {
	defer close(rec.consumerDone)

	sendFailed := false
	for {
		buf, ok := rec.queue.Pop(context.Background())
		if !ok {
			return
		}

		pcm, err := rec.resampler.Process(buf)
		if err != nil {
			rec.logger.Warn().Err(err).Msg("Dropping audio buffer that could not be resampled")
			continue
		}
		sendFailed = r.forward(rec, pcm, sendFailed)
	}
}

// forward archives pcm and streams every completed segment. It returns whether
// sending has failed; after a failure segments are discarded.
func (r *Recorder) forward(rec *recording, pcm []byte, sendFailed bool) bool {
	if r.opts.RecordingDir != "" {
		rec.pcm.Write(pcm)
	}
	r.trackSpeech(rec, pcm)

	for _, segment := range rec.segmenter.Append(pcm) {
		if sendFailed {
			continue
		}
		if err := r.transcriber.SendAudio(segment); err != nil {
			// Keep draining so capture is never blocked; the session is gone
			sendFailed = true
			rec.logger.Error().Err(err).Msg("Failed to send audio, discarding the rest of the recording")
			r.setError(err)
		}
	}
	return sendFailed
}

func (r *Recorder) trackSpeech(rec *recording, pcm []byte) {
	switch rec.speech.Process(pcm) {
	case audio.SpeechStarted:
		rec.logger.Debug().Msg("Speech started")
	case audio.SpeechEnded:
		rec.logger.Debug().Msg("Speech ended")
	default:
		return
	}
	r.mu.Lock()
	r.speaking = rec.speech.Speaking()
	r.mu.Unlock()
}

// readResults keeps the latest successful transcript
func (r *Recorder) readResults(rec *recording, results <-chan *protocol.Response) {
	defer close(rec.readerDone)

	for resp := range results {
		if !resp.IsSuccess() {
			r.setError(fmt.Errorf("asr error %d: %s", resp.Code, resp.Message))
			continue
		}
		if resp.Text == "" {
			continue
		}
		r.updateText(resp.Text)
	}
}

func (r *Recorder) updateText(text string) {
	r.mu.Lock()
	r.text = text
	onText := r.onText
	r.mu.Unlock()

	if onText != nil {
		onText(text)
	}
}

// Stop ends capture, streams the remaining audio, waits for the final result and
// returns the transcript with trailing punctuation removed.
func (r *Recorder) Stop(ctx context.Context) (Summary, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	rec := r.current
	if rec == nil {
		r.mu.RLock()
		last := Summary{Text: r.lastText, Duration: r.lastDuration, Chars: utf8.RuneCountInString(r.lastText)}
		r.mu.RUnlock()
		return last, ErrNotRecording
	}
	duration := time.Since(rec.startedAt)

	r.stopCapture(rec)
	r.forward(rec, rec.resampler.Flush(), false)

	if rest := rec.segmenter.Flush(); len(rest) > 0 {
		if err := r.transcriber.SendAudio(rest); err != nil {
			rec.logger.Warn().Err(err).Msg("Failed to send final partial segment")
		}
	}

	var finalText string
	if err := r.transcriber.SendFinalFrame(); err != nil {
		rec.logger.Warn().Err(err).Msg("Failed to send final frame")
	} else if final, ok := r.transcriber.WaitForFinalResult(ctx, r.opts.FinalResultTimeout); ok && final.IsSuccess() {
		finalText = final.Text
	} else {
		rec.logger.Info().Msg("No final result, keeping the latest partial transcript")
	}

	r.finish(rec)

	// Applied after the reader drained so a late partial cannot overwrite it
	if finalText != "" {
		r.updateText(finalText)
	}

	r.mu.Lock()
	text := StripTrailingPunctuation(r.text)
	r.lastText = text
	r.lastDuration = duration
	r.mu.Unlock()

	r.saveRecording(rec)

	rec.logger.Info().
		Dur("duration", duration).
		Int("chars", utf8.RuneCountInString(text)).
		Msg("Recording stopped")

	return Summary{Text: text, Duration: duration, Chars: utf8.RuneCountInString(text)}, nil
}

// Cancel ends the recording without waiting for a final result and discards the text
func (r *Recorder) Cancel() (Summary, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	rec := r.current
	if rec == nil {
		return Summary{}, ErrNotRecording
	}
	duration := time.Since(rec.startedAt)

	r.stopCapture(rec)
	rec.segmenter.Reset()
	r.finish(rec)

	r.mu.Lock()
	r.lastText = ""
	r.lastDuration = duration
	r.mu.Unlock()

	rec.logger.Info().Dur("duration", duration).Msg("Recording cancelled")
	return Summary{Duration: duration}, nil
}

// Toggle starts a recording, or stops the current one. started reports which happened.
func (r *Recorder) Toggle(ctx context.Context) (started bool, summary Summary, err error) {
	if !r.IsRecording() {
		err = r.Start(ctx)
		if !errors.Is(err, ErrAlreadyRecording) {
			return err == nil, Summary{}, err
		}
	}
	summary, err = r.Stop(ctx)
	return false, summary, err
}

// stopCapture stops the source and waits until every queued buffer reached the segmenter
func (r *Recorder) stopCapture(rec *recording) {
	rec.cancelCapture()
	<-rec.captureDone
	<-rec.consumerDone
}

// finish disconnects the session and releases the recording
func (r *Recorder) finish(rec *recording) {
	if err := r.transcriber.Disconnect(); err != nil {
		rec.logger.Warn().Err(err).Msg("Disconnect failed")
	}
	<-rec.readerDone

	if err := rec.group.Wait(); err != nil {
		rec.logger.Debug().Err(err).Msg("Recording goroutines reported an error")
	}

	r.mu.Lock()
	r.recording = false
	r.level = 0
	r.speaking = false
	r.mu.Unlock()

	r.current = nil
}

func (r *Recorder) saveRecording(rec *recording) {
	if r.opts.RecordingDir == "" || rec.pcm.Len() == 0 {
		return
	}
	path := filepath.Join(r.opts.RecordingDir, rec.id+".wav")
	if err := audio.WriteWAV(path, rec.pcm.Bytes(), audio.TargetSampleRate); err != nil {
		rec.logger.Warn().Err(err).Msg("Failed to save recording")
		return
	}
	rec.logger.Debug().Str("path", path).Msg("Recording saved")
}

func (r *Recorder) setError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}

// Status returns the current recorder state
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Recording:    r.recording,
		Text:         r.text,
		Level:        r.level,
		LastText:     r.lastText,
		LastDuration: r.lastDuration,
		LastError:    r.lastError,
	}
	if r.recording {
		st.SessionID = r.sessionID
		st.Duration = time.Since(r.startedAt)
		st.Speaking = r.speaking
	}
	return st
}

// StripTrailingPunctuation removes trailing ASCII and CJK punctuation
func StripTrailingPunctuation(text string) string {
	return strings.TrimRight(text, trailingPunctuation)
}
