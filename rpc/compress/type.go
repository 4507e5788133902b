package compress

import (
	"svccall/internal/errs"
	"svccall/rpc/compress/gzip"
	"svccall/rpc/compress/lz4"
	"svccall/rpc/compress/snappy"
)

// Compressor -> compression algorithm abstract
type Compressor interface {
	Code() byte
	Compress(data []byte) ([]byte, error)
	Uncompress(data []byte) ([]byte, error)
}

// DoNothingCompressor keeps callers free of nil checks.
type DoNothingCompressor struct{}

func (DoNothingCompressor) Code() byte {
	return 0
}

func (DoNothingCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (DoNothingCompressor) Uncompress(data []byte) ([]byte, error) {
	return data, nil
}

// ByCode returns the compressor a peer tagged its frame with.
func ByCode(code byte) (Compressor, error) {
	switch code {
	case 0:
		return DoNothingCompressor{}, nil
	case gzip.Code:
		return gzip.Compressor{}, nil
	case lz4.Code:
		return lz4.Compressor{}, nil
	case snappy.Code:
		return snappy.Compressor{}, nil
	}
	return nil, errs.ErrUnknownCompressor
}

// ByName resolves the configuration names none, gzip, lz4 and snappy.
func ByName(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return DoNothingCompressor{}, nil
	case "gzip":
		return gzip.Compressor{}, nil
	case "lz4":
		return lz4.Compressor{}, nil
	case "snappy":
		return snappy.Compressor{}, nil
	}
	return nil, errs.ErrUnknownCompressor
}
