package lz4

import (
	"encoding/binary"
	"errors"
	"github.com/pierrec/lz4/v4"
	"sync"
)

const Code byte = 2

const (
	// 4 bytes raw length + 1 byte block flag
	headerLen = 5

	flagRaw   = 0
	flagBlock = 1
)

var errCorrupt = errors.New("lz4: corrupt block")

var compressors = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// Compressor stores lz4 blocks prefixed with the raw length, so
// Uncompress can size its buffer exactly.
type Compressor struct{}

func (Compressor) Code() byte {
	return Code
}

// Compress data
func (Compressor) Compress(data []byte) ([]byte, error) {
	buf := make([]byte, headerLen+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))

	c := compressors.Get().(*lz4.Compressor)
	n, err := c.CompressBlock(data, buf[headerLen:])
	compressors.Put(c)
	if err != nil {
		return nil, err
	}
	// incompressible input
	if n == 0 || n >= len(data) {
		buf[4] = flagRaw
		return append(buf[:headerLen], data...), nil
	}
	buf[4] = flagBlock
	return buf[:headerLen+n], nil
}

// Uncompress data
func (Compressor) Uncompress(data []byte) ([]byte, error) {
	if len(data) < headerLen {
		return nil, errCorrupt
	}
	rawLen := binary.BigEndian.Uint32(data[:4])
	body := data[headerLen:]
	if data[4] == flagRaw {
		if uint32(len(body)) != rawLen {
			return nil, errCorrupt
		}
		return body, nil
	}
	buf := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, buf)
	if err != nil {
		return nil, err
	}
	if uint32(n) != rawLen {
		return nil, errCorrupt
	}
	return buf, nil
}
