package audio

import (
	"testing"
)

func constantPCM(samples int, amplitude int16) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = amplitude
	}
	return SamplesToBytes(s)
}

func TestSpeechDetector_Speech(t *testing.T) {
	d := NewSpeechDetector(SpeechDetectorConfig{EnergyThreshold: 500, SilenceFrames: 10, FrameSize: 320})

	if e := d.Process(constantPCM(320, 5000)); e != SpeechStarted {
		t.Errorf("Expected SpeechStarted, got %d", e)
	}
	for i := 0; i < 5; i++ {
		if e := d.Process(constantPCM(320, 5000)); e != SpeechNone {
			t.Errorf("Expected no event on frame %d, got %d", i, e)
		}
		if !d.Speaking() {
			t.Errorf("Expected speech on frame %d", i)
		}
	}
}

func TestSpeechDetector_Silence(t *testing.T) {
	d := NewSpeechDetector(SpeechDetectorConfig{EnergyThreshold: 500, SilenceFrames: 10, FrameSize: 320})

	for i := 0; i < 15; i++ {
		if e := d.Process(constantPCM(320, 10)); e != SpeechNone {
			t.Errorf("Expected no event on quiet frame %d, got %d", i, e)
		}
	}
	if d.Speaking() {
		t.Error("Expected silence")
	}
}

func TestSpeechDetector_SpeechToSilence(t *testing.T) {
	d := NewSpeechDetector(SpeechDetectorConfig{EnergyThreshold: 500, SilenceFrames: 10, FrameSize: 320})

	d.Process(constantPCM(320*3, 5000))
	if !d.Speaking() {
		t.Fatal("Expected speech after loud frames")
	}

	// Nine quiet frames keep the speaker active
	if e := d.Process(constantPCM(320*9, 10)); e != SpeechNone || !d.Speaking() {
		t.Errorf("Expected speech to continue, got event %d speaking=%v", e, d.Speaking())
	}
	if e := d.Process(constantPCM(320, 10)); e != SpeechEnded {
		t.Errorf("Expected SpeechEnded, got %d", e)
	}
	if d.Speaking() {
		t.Error("Expected speech to be over")
	}
}

func TestSpeechDetector_PartialFrames(t *testing.T) {
	d := NewSpeechDetector(SpeechDetectorConfig{EnergyThreshold: 500, SilenceFrames: 10, FrameSize: 320})

	pcm := constantPCM(320, 5000)
	if e := d.Process(pcm[:300]); e != SpeechNone {
		t.Errorf("Expected no event before a full frame, got %d", e)
	}
	if e := d.Process(pcm[300:]); e != SpeechStarted {
		t.Errorf("Expected SpeechStarted once the frame completes, got %d", e)
	}
}

func TestSpeechDetector_Reset(t *testing.T) {
	d := NewSpeechDetector(SpeechDetectorConfig{})
	d.Process(constantPCM(DefaultSpeechDetectorConfig().FrameSize, 5000))
	if !d.Speaking() {
		t.Fatal("Expected speech with default config")
	}

	d.Reset()
	if d.Speaking() {
		t.Error("Expected reset to clear speech state")
	}
}
