package audio

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestReaderSource_DeliversAllData(t *testing.T) {
	data := make([]byte, DefaultChunkSize*2+100)
	for i := range data {
		data[i] = byte(i)
	}

	src := NewReaderSource(bytes.NewReader(data), 16000, false)
	if src.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", src.SampleRate())
	}

	var got []byte
	err := src.Run(context.Background(), func(b []byte) {
		got = append(got, b...)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Expected %d bytes back, got %d", len(data), len(got))
	}
}

func TestReaderSource_DropsTrailingOddByte(t *testing.T) {
	src := NewReaderSource(bytes.NewReader([]byte{1, 2, 3}), 16000, false)

	var got []byte
	if err := src.Run(context.Background(), func(b []byte) { got = append(got, b...) }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("Expected sample-aligned output [1 2], got %v", got)
	}
}

func TestReaderSource_StopsOnCancel(t *testing.T) {
	// 10 seconds of paced audio; cancelling must end Run early
	src := NewReaderSource(bytes.NewReader(make([]byte, 320000)), 16000, true)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := src.Run(ctx, func([]byte) {}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected Run to stop shortly after cancel, took %v", elapsed)
	}
}

func TestCommandSource_EmptyCommand(t *testing.T) {
	src := NewCommandSource("   ", 16000)
	if err := src.Run(context.Background(), func([]byte) {}); err == nil {
		t.Error("Expected error for empty capture command")
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := SamplesToBytes([]int16{0, 1000, -1000, 32767, -32768, 42})
	path := filepath.Join(t.TempDir(), "clip.wav")

	if err := WriteWAV(path, pcm, 16000); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	src, err := OpenWAV(path, false)
	if err != nil {
		t.Fatalf("OpenWAV failed: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", src.SampleRate())
	}

	var got []byte
	if err := src.Run(context.Background(), func(b []byte) { got = append(got, b...) }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("Expected %v, got %v", pcm, got)
	}
}

func TestOpenWAV_Invalid(t *testing.T) {
	if _, err := OpenWAV(filepath.Join(t.TempDir(), "missing.wav"), false); err == nil {
		t.Error("Expected error for missing file")
	}
}
