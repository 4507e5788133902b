package snappy

import (
	"bytes"
	"github.com/golang/snappy"
	"io"
)

const Code byte = 3

// Compressor implements the Compressor interface with the snappy framing format
type Compressor struct{}

func (Compressor) Code() byte {
	return Code
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w := snappy.NewBufferedWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Uncompress data
func (Compressor) Uncompress(data []byte) ([]byte, error) {
	return io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
}
