package highway

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"svccall/internal/errs"
)

const (
	// HeadLength(4) BodyLength(4) MessageId(4) Version(1) Compressor(1) Serializer(1)
	fixedLen = 15
	// response frames carry a 2 byte status after the fixed part
	respFixedLen = fixedLen + 2

	maxFrameLen = 16 << 20

	Version uint8 = 1
)

// Request is one highway request frame.
type Request struct {
	HeadLength uint32
	BodyLength uint32
	MessageId  uint32
	Version    uint8
	Compressor uint8
	Serializer uint8

	ServiceName string
	Operation   string
	Method      string
	Args        []string
	RawQuery    string
	// Meta carries headers plus the caller deadline.
	Meta map[string]string

	Data []byte
}

// Response is one highway response frame.
type Response struct {
	HeadLength uint32
	BodyLength uint32
	MessageId  uint32
	Version    uint8
	Compressor uint8
	Serializer uint8
	Status     uint16

	// Error is set when the server could not dispatch the frame at all.
	Error string
	Meta  map[string]string

	Data []byte
}

func EncodeReq(req *Request) []byte {
	var head bytes.Buffer
	writeString(&head, req.ServiceName)
	writeString(&head, req.Operation)
	writeString(&head, req.Method)
	writeUvarint(&head, uint64(len(req.Args)))
	for _, arg := range req.Args {
		writeString(&head, arg)
	}
	writeString(&head, req.RawQuery)
	writeMeta(&head, req.Meta)

	req.HeadLength = uint32(fixedLen + head.Len())
	req.BodyLength = uint32(len(req.Data))
	bs := make([]byte, req.HeadLength+req.BodyLength)
	putFixed(bs, req.HeadLength, req.BodyLength, req.MessageId, req.Version, req.Compressor, req.Serializer)
	copy(bs[fixedLen:], head.Bytes())
	copy(bs[req.HeadLength:], req.Data)
	return bs
}

func DecodeReq(bs []byte) (*Request, error) {
	if len(bs) < fixedLen {
		return nil, errs.ErrFrameTooShort
	}
	req := &Request{}
	req.HeadLength, req.BodyLength, req.MessageId, req.Version, req.Compressor, req.Serializer = getFixed(bs)
	if err := checkLength(bs, req.HeadLength, req.BodyLength, fixedLen); err != nil {
		return nil, err
	}
	r := &reader{buf: bs[fixedLen:req.HeadLength]}
	req.ServiceName = r.string()
	req.Operation = r.string()
	req.Method = r.string()
	if n := r.uvarint(); n > 0 && r.err == nil {
		if n > uint64(len(r.buf)) {
			return nil, errs.ErrFrameLength
		}
		req.Args = make([]string, 0, n)
		for i := uint64(0); i < n; i++ {
			req.Args = append(req.Args, r.string())
		}
	}
	req.RawQuery = r.string()
	req.Meta = r.meta()
	if r.err != nil {
		return nil, r.err
	}
	if req.BodyLength != 0 {
		req.Data = bs[req.HeadLength:]
	}
	return req, nil
}

func EncodeResp(resp *Response) []byte {
	var head bytes.Buffer
	writeString(&head, resp.Error)
	writeMeta(&head, resp.Meta)

	resp.HeadLength = uint32(respFixedLen + head.Len())
	resp.BodyLength = uint32(len(resp.Data))
	bs := make([]byte, resp.HeadLength+resp.BodyLength)
	putFixed(bs, resp.HeadLength, resp.BodyLength, resp.MessageId, resp.Version, resp.Compressor, resp.Serializer)
	binary.BigEndian.PutUint16(bs[fixedLen:respFixedLen], resp.Status)
	copy(bs[respFixedLen:], head.Bytes())
	copy(bs[resp.HeadLength:], resp.Data)
	return bs
}

func DecodeResp(bs []byte) (*Response, error) {
	if len(bs) < respFixedLen {
		return nil, errs.ErrFrameTooShort
	}
	resp := &Response{}
	resp.HeadLength, resp.BodyLength, resp.MessageId, resp.Version, resp.Compressor, resp.Serializer = getFixed(bs)
	if err := checkLength(bs, resp.HeadLength, resp.BodyLength, respFixedLen); err != nil {
		return nil, err
	}
	resp.Status = binary.BigEndian.Uint16(bs[fixedLen:respFixedLen])
	r := &reader{buf: bs[respFixedLen:resp.HeadLength]}
	resp.Error = r.string()
	resp.Meta = r.meta()
	if r.err != nil {
		return nil, r.err
	}
	if resp.BodyLength != 0 {
		resp.Data = bs[resp.HeadLength:]
	}
	return resp, nil
}

// ReadFrame reads one whole frame, request or response.
func ReadFrame(r io.Reader) ([]byte, error) {
	lenBs := make([]byte, 8)
	if _, err := io.ReadFull(r, lenBs); err != nil {
		return nil, err
	}
	headLen := binary.BigEndian.Uint32(lenBs[:4])
	bodyLen := binary.BigEndian.Uint32(lenBs[4:8])
	total := uint64(headLen) + uint64(bodyLen)
	if headLen < fixedLen || total > maxFrameLen {
		return nil, fmt.Errorf("%w: head %d body %d", errs.ErrFrameLength, headLen, bodyLen)
	}
	bs := make([]byte, total)
	copy(bs, lenBs)
	if _, err := io.ReadFull(r, bs[8:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return bs, nil
}

func putFixed(bs []byte, headLen, bodyLen, id uint32, version, compressor, serializer uint8) {
	binary.BigEndian.PutUint32(bs[:4], headLen)
	binary.BigEndian.PutUint32(bs[4:8], bodyLen)
	binary.BigEndian.PutUint32(bs[8:12], id)
	bs[12] = version
	bs[13] = compressor
	bs[14] = serializer
}

func getFixed(bs []byte) (headLen, bodyLen, id uint32, version, compressor, serializer uint8) {
	return binary.BigEndian.Uint32(bs[:4]),
		binary.BigEndian.Uint32(bs[4:8]),
		binary.BigEndian.Uint32(bs[8:12]),
		bs[12], bs[13], bs[14]
}

func checkLength(bs []byte, headLen, bodyLen uint32, minHead int) error {
	if int(headLen) < minHead || uint64(len(bs)) != uint64(headLen)+uint64(bodyLen) {
		return errs.ErrFrameLength
	}
	return nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeMeta(buf *bytes.Buffer, meta map[string]string) {
	writeUvarint(buf, uint64(len(meta)))
	for k, v := range meta {
		writeString(buf, k)
		writeString(buf, v)
	}
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errs.ErrFrameTooShort
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) string() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)) {
		r.err = errs.ErrFrameTooShort
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) meta() map[string]string {
	n := r.uvarint()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.err = errs.ErrFrameLength
		return nil
	}
	meta := make(map[string]string, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		k := r.string()
		meta[k] = r.string()
	}
	return meta
}
