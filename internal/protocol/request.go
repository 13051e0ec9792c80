package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Audio format constants; the service only accepts 16 kHz 16-bit mono PCM from this client
const (
	SampleRate = 16000
	BitDepth   = 16
	Channels   = 1
)

// RequestConfig holds everything that goes into the full client request payload
type RequestConfig struct {
	UserID          string
	Language        string // Empty lets the service auto-detect
	SampleRate      int
	Bits            int
	Channels        int
	ModelName       string
	EnableITN       bool // Inverse text normalization
	EnablePunc      bool
	EnableDDC       bool // Disfluency removal
	ShowUtterances  bool
	EnableNonstream bool // Two-pass recognition: realtime + final high-accuracy pass
	EndWindowMs     int  // Silence window that closes an utterance
	Context         []string
}

// DefaultRequestConfig returns the request options the daemon uses unless overridden
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		UserID:          "seedling_user",
		SampleRate:      SampleRate,
		Bits:            BitDepth,
		Channels:        Channels,
		ModelName:       "bigmodel",
		EnableITN:       true,
		EnablePunc:      true,
		EnableDDC:       true,
		ShowUtterances:  true,
		EnableNonstream: true,
		EndWindowMs:     3000,
	}
}

// FullRequestPayload is the JSON body of the first frame of a session
type FullRequestPayload struct {
	User    UserMeta    `json:"user"`
	Audio   AudioMeta   `json:"audio"`
	Request RequestMeta `json:"request"`
}

// UserMeta identifies the caller
type UserMeta struct {
	UID string `json:"uid"`
}

// AudioMeta describes the audio that follows in audio-only frames
type AudioMeta struct {
	Format   string `json:"format"`
	Codec    string `json:"codec"`
	Rate     int    `json:"rate"`
	Bits     int    `json:"bits"`
	Channel  int    `json:"channel"`
	Language string `json:"language,omitempty"`
}

// RequestMeta carries recognition options
type RequestMeta struct {
	ModelName       string  `json:"model_name"`
	EnableITN       bool    `json:"enable_itn"`
	EnablePunc      bool    `json:"enable_punc"`
	EnableDDC       bool    `json:"enable_ddc"`
	ShowUtterances  bool    `json:"show_utterances"`
	EnableNonstream bool    `json:"enable_nonstream"`
	EndWindowSize   int     `json:"end_window_size,omitempty"`
	Corpus          *Corpus `json:"corpus,omitempty"`
}

// Corpus biases recognition; Context is itself a JSON document encoded as a string
type Corpus struct {
	Context string `json:"context"`
}

type dialogContext struct {
	ContextType string           `json:"context_type"`
	ContextData []dialogSentence `json:"context_data"`
}

type dialogSentence struct {
	Text string `json:"text"`
}

// NewFullRequestPayload builds the control payload for cfg
func NewFullRequestPayload(cfg RequestConfig) (*FullRequestPayload, error) {
	payload := &FullRequestPayload{
		User: UserMeta{UID: cfg.UserID},
		Audio: AudioMeta{
			Format:   "pcm",
			Codec:    "raw",
			Rate:     cfg.SampleRate,
			Bits:     cfg.Bits,
			Channel:  cfg.Channels,
			Language: cfg.Language,
		},
		Request: RequestMeta{
			ModelName:       cfg.ModelName,
			EnableITN:       cfg.EnableITN,
			EnablePunc:      cfg.EnablePunc,
			EnableDDC:       cfg.EnableDDC,
			ShowUtterances:  cfg.ShowUtterances,
			EnableNonstream: cfg.EnableNonstream,
			EndWindowSize:   cfg.EndWindowMs,
		},
	}

	if lines := nonEmpty(cfg.Context); len(lines) > 0 {
		ctx := dialogContext{ContextType: "dialog_ctx"}
		for _, line := range lines {
			ctx.ContextData = append(ctx.ContextData, dialogSentence{Text: line})
		}
		encoded, err := json.Marshal(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal context: %w", err)
		}
		payload.Request.Corpus = &Corpus{Context: string(encoded)}
	}

	return payload, nil
}

// EncodeFullRequest builds the full client request frame carrying cfg as gzip-compressed JSON.
// The sequence is always sent as a positive value.
func EncodeFullRequest(cfg RequestConfig, sequence int32) ([]byte, error) {
	payload, err := NewFullRequestPayload(cfg)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal full request: %w", err)
	}

	compressed, err := GzipCompress(body)
	if err != nil {
		return nil, fmt.Errorf("failed to compress full request: %w", err)
	}

	if sequence < 0 {
		sequence = -sequence
	}

	return buildFrame(MessageTypeFullRequest, FlagPositiveSequence, sequence, compressed), nil
}

// EncodeAudioFrame builds an audio-only frame. A final frame signals end of stream by
// carrying the negated sequence; pcm may be empty in that case. The payload is gzip
// compressed even when empty.
func EncodeAudioFrame(pcm []byte, sequence int32, isFinal bool) ([]byte, error) {
	compressed, err := GzipCompress(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to compress audio: %w", err)
	}

	flags := FlagPositiveSequence
	if isFinal {
		flags = FlagNegativeWithSequence
		sequence = -sequence
	}

	return buildFrame(MessageTypeAudioOnly, flags, sequence, compressed), nil
}

// buildFrame concatenates header, big-endian sequence, big-endian payload length and payload
func buildFrame(messageType MessageType, flags Flags, sequence int32, payload []byte) []byte {
	frame := make([]byte, 0, HeaderSize+2*fieldSize+len(payload))
	frame = append(frame, EncodeHeader(messageType, flags, CompressionGzip)...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(sequence))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func nonEmpty(lines []string) []string {
	var out []string
	for _, line := range lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
