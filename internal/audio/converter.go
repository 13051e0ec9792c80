package audio

import (
	"fmt"
	"math"
)

// BytesToSamples decodes little-endian 16-bit PCM into samples
func BytesToSamples(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}
	return pcmData
}

// Resampler converts a 16-bit mono PCM stream between rates with linear
// interpolation. The source position and last sample carry over between
// buffers, so chunked input gives the same output as one large buffer.
// Not safe for concurrent use.
type Resampler struct {
	inputRate  int64
	outputRate int64
	pos        int64 // Next output position in source samples, scaled by outputRate
	prev       int16 // Last sample of the previous buffer (source index -1)
	primed     bool
}

// NewResampler creates a resampler for inputRate -> outputRate
func NewResampler(inputRate, outputRate int) (*Resampler, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", inputRate, outputRate)
	}
	return &Resampler{inputRate: int64(inputRate), outputRate: int64(outputRate)}, nil
}

// Process resamples the next buffer of the stream. Output that needs the
// following buffer to interpolate is held back until the next call or Flush.
func (r *Resampler) Process(pcmData []byte) ([]byte, error) {
	if r.inputRate == r.outputRate {
		return pcmData, nil
	}
	samples, err := BytesToSamples(pcmData)
	if err != nil {
		return nil, err
	}
	n := int64(len(samples))
	if n == 0 {
		return nil, nil
	}

	at := func(i int64) float64 {
		if i < 0 {
			return float64(r.prev)
		}
		return float64(samples[i])
	}

	out := make([]int16, 0, n*r.outputRate/r.inputRate+1)
	for r.pos < (n-1)*r.outputRate {
		i0 := floorDiv(r.pos, r.outputRate)
		fraction := float64(r.pos-i0*r.outputRate) / float64(r.outputRate)
		out = append(out, int16(at(i0)*(1.0-fraction)+at(i0+1)*fraction))
		r.pos += r.inputRate
	}

	r.pos -= n * r.outputRate
	r.prev = samples[n-1]
	r.primed = true
	return SamplesToBytes(out), nil
}

// Flush emits the held-back tail by repeating the last sample and resets the stream
func (r *Resampler) Flush() []byte {
	var out []int16
	if r.primed {
		for r.pos < 0 {
			out = append(out, r.prev)
			r.pos += r.inputRate
		}
	}
	r.pos = 0
	r.prev = 0
	r.primed = false
	return SamplesToBytes(out)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// DownmixToMono averages interleaved channels into a single channel
func DownmixToMono(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}

// ScaleToPCM16 rescales samples of the given bit depth into the 16-bit range
func ScaleToPCM16(samples []int, bitDepth int) []int16 {
	out := make([]int16, len(samples))
	shift := bitDepth - 16
	for i, s := range samples {
		switch {
		case shift > 0:
			s >>= uint(shift)
		case shift < 0:
			s <<= uint(-shift)
		}
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		out[i] = int16(s)
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Level returns the RMS of a PCM16 buffer normalized to 0..1
func Level(pcmData []byte) float64 {
	samples, err := BytesToSamples(pcmData[:len(pcmData)&^1])
	if err != nil {
		return 0
	}
	return CalculateRMS(samples) / float64(math.MaxInt16)
}
