package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrDecode is wrapped by every DecodeResponse failure
var ErrDecode = errors.New("decode error")

// Response is one decoded server frame
type Response struct {
	Text            string
	IsFinal         bool
	Sequence        int32
	Code            int32
	Message         string
	Utterances      []Utterance
	AudioDurationMs int
}

// Utterance is a sentence-level segment of the transcript
type Utterance struct {
	Text      string `json:"text"`
	StartTime int    `json:"start_time"`
	EndTime   int    `json:"end_time"`
	Definite  bool   `json:"definite"`
}

// IsSuccess reports whether the server signalled success (code 0 or 1000)
func (r *Response) IsSuccess() bool {
	return r.Code == 0 || r.Code == 1000
}

// resultPayload is the JSON carried by server frames
type resultPayload struct {
	Code      *int32  `json:"code"`
	Message   *string `json:"message"`
	AudioInfo *struct {
		Duration int `json:"duration"`
	} `json:"audio_info"`
	Result *struct {
		Text       string      `json:"text"`
		Utterances []Utterance `json:"utterances"`
	} `json:"result"`
}

// frameReader walks a frame, refusing any read past the end of the buffer
type frameReader struct {
	data []byte
	off  int
}

func (r *frameReader) remaining() int {
	return len(r.data) - r.off
}

func (r *frameReader) skip(n int, field string) error {
	if n < 0 || r.remaining() < n {
		return fmt.Errorf("%w: truncated %s: need %d bytes, have %d", ErrDecode, field, n, r.remaining())
	}
	r.off += n
	return nil
}

func (r *frameReader) uint32(field string) (uint32, error) {
	if r.remaining() < fieldSize {
		return 0, fmt.Errorf("%w: truncated %s: need %d bytes, have %d", ErrDecode, field, fieldSize, r.remaining())
	}
	v := binary.BigEndian.Uint32(r.data[r.off : r.off+fieldSize])
	r.off += fieldSize
	return v, nil
}

func (r *frameReader) bytes(n uint32, field string) ([]byte, error) {
	if uint64(n) > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %s length %d exceeds remaining %d bytes", ErrDecode, field, n, r.remaining())
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// DecodeResponse parses a server frame (ServerFull or ServerError).
// An empty payload is a valid acknowledgement and yields a Response with empty text.
func DecodeResponse(data []byte) (*Response, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	r := &frameReader{data: data}
	if err := r.skip(header.Size(), "header"); err != nil {
		return nil, err
	}

	resp := &Response{IsFinal: header.Flags.IsLast()}

	if header.Flags.HasSequence() {
		seq, err := r.uint32("sequence")
		if err != nil {
			return nil, err
		}
		resp.Sequence = int32(seq)
	}
	if header.Flags.HasReserved() {
		if err := r.skip(fieldSize, "reserved field"); err != nil {
			return nil, err
		}
	}

	switch header.MessageType {
	case MessageTypeServerFull:
	case MessageTypeServerError:
		code, err := r.uint32("error code")
		if err != nil {
			return nil, err
		}
		resp.Code = int32(code)
	default:
		return nil, fmt.Errorf("%w: unexpected message type %s", ErrDecode, header.MessageType)
	}

	size, err := r.uint32("payload length")
	if err != nil {
		return nil, err
	}
	payload, err := r.bytes(size, "payload")
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := resp.applyPayload(payload, header); err != nil {
			return nil, err
		}
	}

	if resp.Message == "" && resp.Code != 0 {
		resp.Message = fmt.Sprintf("Error %d", resp.Code)
	}

	return resp, nil
}

func (r *Response) applyPayload(payload []byte, header Header) error {
	if header.Compression == CompressionGzip {
		inflated, err := GzipDecompress(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		payload = inflated
	}
	if len(payload) == 0 {
		return nil
	}

	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}

	var msg resultPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", ErrDecode, err)
	}

	if msg.Code != nil {
		r.Code = *msg.Code
	}
	if msg.Message != nil {
		r.Message = *msg.Message
	}
	if msg.AudioInfo != nil {
		r.AudioDurationMs = msg.AudioInfo.Duration
	}
	if msg.Result != nil {
		r.Text = msg.Result.Text
		r.Utterances = msg.Result.Utterances
	}

	return nil
}
