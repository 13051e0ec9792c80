package protocol

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// chunkSize is the buffer size used when streaming through the inflater
const chunkSize = 16 * 1024

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

// GzipCompress compresses data into a single gzip member.
// Empty input still yields a complete gzip stream (header + empty deflate block + trailer).
func GzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(zw)
	zw.Reset(&buf)

	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := zw.Write(data[start:end]); err != nil {
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

// GzipDecompress inflates a gzip stream of any size.
// The reader is drained in fixed-size chunks; io.EOF at a chunk boundary is the normal end of input.
func GzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip header: %w", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		n, err := zr.Read(chunk)
		out.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gzip inflate failed: %w", err)
		}
	}

	return out.Bytes(), nil
}
