package gzip

import (
	"bytes"
	"compress/gzip"
	"io"
)

const Code byte = 1

// Compressor implements the Compressor interface
type Compressor struct{}

func (Compressor) Code() byte {
	return Code
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	res := bytes.NewBuffer(nil)
	gw := gzip.NewWriter(res)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	// Close flushes the footer; without it Uncompress sees a truncated stream.
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return res.Bytes(), nil
}

// Uncompress data
func (Compressor) Uncompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = gr.Close()
	}()
	return io.ReadAll(gr)
}
