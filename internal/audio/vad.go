package audio

// SpeechDetectorConfig tunes energy-based speech detection on 16-bit PCM
type SpeechDetectorConfig struct {
	EnergyThreshold float64 // RMS (in sample units) above which a frame counts as speech
	SilenceFrames   int     // Consecutive quiet frames before speech is considered over
	FrameSize       int     // Samples per analysis frame
}

// DefaultSpeechDetectorConfig uses 20ms frames at 16kHz and ends speech after 600ms of quiet
func DefaultSpeechDetectorConfig() SpeechDetectorConfig {
	return SpeechDetectorConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   30,
		FrameSize:       TargetSampleRate / 50,
	}
}

// SpeechEvent reports a transition seen while processing a buffer
type SpeechEvent int

const (
	SpeechNone SpeechEvent = iota
	SpeechStarted
	SpeechEnded
)

// SpeechDetector tracks whether the speaker is talking. Buffers may be any length;
// a partial frame is carried into the next call. Not safe for concurrent use.
type SpeechDetector struct {
	config     SpeechDetectorConfig
	pending    []int16
	quietCount int
	speaking   bool
}

// NewSpeechDetector creates a detector; zero fields fall back to the defaults
func NewSpeechDetector(config SpeechDetectorConfig) *SpeechDetector {
	def := DefaultSpeechDetectorConfig()
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = def.EnergyThreshold
	}
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = def.SilenceFrames
	}
	if config.FrameSize <= 0 {
		config.FrameSize = def.FrameSize
	}
	return &SpeechDetector{config: config}
}

// Process analyses pcm and returns the last transition it caused, if any
func (d *SpeechDetector) Process(pcm []byte) SpeechEvent {
	samples, err := BytesToSamples(pcm[:len(pcm)&^1])
	if err != nil {
		return SpeechNone
	}
	d.pending = append(d.pending, samples...)

	event := SpeechNone
	size := d.config.FrameSize
	for len(d.pending) >= size {
		if e := d.processFrame(d.pending[:size]); e != SpeechNone {
			event = e
		}
		d.pending = d.pending[size:]
	}
	// Keep the carry small
	d.pending = append([]int16(nil), d.pending...)
	return event
}

func (d *SpeechDetector) processFrame(frame []int16) SpeechEvent {
	if CalculateRMS(frame) > d.config.EnergyThreshold {
		d.quietCount = 0
		if !d.speaking {
			d.speaking = true
			return SpeechStarted
		}
		return SpeechNone
	}

	d.quietCount++
	if d.speaking && d.quietCount >= d.config.SilenceFrames {
		d.speaking = false
		d.quietCount = 0
		return SpeechEnded
	}
	return SpeechNone
}

// Speaking reports whether speech is currently detected
func (d *SpeechDetector) Speaking() bool {
	return d.speaking
}

// Reset clears all state
func (d *SpeechDetector) Reset() {
	d.pending = nil
	d.quietCount = 0
	d.speaking = false
}
