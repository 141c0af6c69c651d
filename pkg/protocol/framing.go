// Package protocol implements the fixed-layout wire format and exact-length
// framing primitives shared by every session handler: RequestHeader,
// ResponseHeader, and the send_exact/recv_exact operations that move them
// (and the bytes that follow them) over a TLS stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	filenameFieldLen  = 256
	recipientFieldLen = 64
	fileHashLen       = 32
)

// Command identifies the operation a RequestHeader carries.
type Command int32

const (
	Upload Command = iota
	Download
	List
)

func (c Command) String() string {
	switch c {
	case Upload:
		return "UPLOAD"
	case Download:
		return "DOWNLOAD"
	case List:
		return "LIST"
	default:
		return fmt.Sprintf("Command(%d)", int32(c))
	}
}

// Status is the outcome carried by a ResponseHeader.
type Status int32

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusFileNotFound
	StatusPermissionDenied
	StatusError
	StatusInvalidOffset
	StatusIntegrityError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusFileNotFound:
		return "FILE_NOT_FOUND"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	case StatusError:
		return "ERROR"
	case StatusInvalidOffset:
		return "INVALID_OFFSET"
	case StatusIntegrityError:
		return "INTEGRITY_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// RequestHeader is the fixed-layout record a client sends to begin any
// operation. On the wire: command(4) filename(256) filesize(8) offset(8)
// file_hash(32) recipient(64), native endian, 372 bytes total.
type RequestHeader struct {
	Command   Command
	Filename  string
	Filesize  int64
	Offset    int64
	FileHash  [fileHashLen]byte
	Recipient string
}

// ResponseHeader is the fixed-layout record a server sends in reply:
// status(4) filesize(8), native endian, 12 bytes total.
type ResponseHeader struct {
	Status   Status
	Filesize int64
}

const (
	// RequestHeaderSize is the exact wire size of a RequestHeader.
	RequestHeaderSize = 4 + filenameFieldLen + 8 + 8 + fileHashLen + recipientFieldLen
	// ResponseHeaderSize is the exact wire size of a ResponseHeader.
	ResponseHeaderSize = 4 + 8
)

var order = binary.NativeEndian

// ErrFieldTooLong indicates a string field does not fit in its fixed slot
// (for the filename, after accounting for the NUL terminator).
var ErrFieldTooLong = errors.New("field exceeds fixed wire width")

func putFixedString(buf []byte, s string) error {
	if len(s) >= len(buf) {
		return fmt.Errorf("%w: %d bytes into a %d-byte field", ErrFieldTooLong, len(s), len(buf))
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, s)
	return nil
}

func getFixedString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Encode serializes h into its fixed 372-byte wire form.
func (h *RequestHeader) Encode() ([]byte, error) {
	buf := make([]byte, RequestHeaderSize)
	order.PutUint32(buf[0:4], uint32(h.Command))

	if err := putFixedString(buf[4:4+filenameFieldLen], h.Filename); err != nil {
		return nil, fmt.Errorf("filename: %w", err)
	}
	off := 4 + filenameFieldLen

	order.PutUint64(buf[off:off+8], uint64(h.Filesize))
	off += 8
	order.PutUint64(buf[off:off+8], uint64(h.Offset))
	off += 8

	copy(buf[off:off+fileHashLen], h.FileHash[:])
	off += fileHashLen

	// A recipient fingerprint is exactly 64 hex characters, so it may fill
	// its 64-byte slot with no NUL terminator; decoding stops at the slot end.
	if len(h.Recipient) > recipientFieldLen {
		return nil, fmt.Errorf("recipient: %w: %d bytes into a %d-byte field", ErrFieldTooLong, len(h.Recipient), recipientFieldLen)
	}
	copy(buf[off:off+recipientFieldLen], h.Recipient)

	return buf, nil
}

// DecodeRequestHeader parses a RequestHeader from exactly RequestHeaderSize
// bytes, as produced by recv_exact.
func DecodeRequestHeader(buf []byte) (*RequestHeader, error) {
	if len(buf) != RequestHeaderSize {
		return nil, fmt.Errorf("request header must be %d bytes, got %d", RequestHeaderSize, len(buf))
	}

	h := &RequestHeader{}
	h.Command = Command(order.Uint32(buf[0:4]))

	h.Filename = getFixedString(buf[4 : 4+filenameFieldLen])
	off := 4 + filenameFieldLen

	h.Filesize = int64(order.Uint64(buf[off : off+8]))
	off += 8
	h.Offset = int64(order.Uint64(buf[off : off+8]))
	off += 8

	copy(h.FileHash[:], buf[off:off+fileHashLen])
	off += fileHashLen

	h.Recipient = getFixedString(buf[off : off+recipientFieldLen])

	return h, nil
}

// Encode serializes h into its fixed 12-byte wire form.
func (h *ResponseHeader) Encode() []byte {
	buf := make([]byte, ResponseHeaderSize)
	order.PutUint32(buf[0:4], uint32(h.Status))
	order.PutUint64(buf[4:12], uint64(h.Filesize))
	return buf
}

// DecodeResponseHeader parses a ResponseHeader from exactly
// ResponseHeaderSize bytes.
func DecodeResponseHeader(buf []byte) (*ResponseHeader, error) {
	if len(buf) != ResponseHeaderSize {
		return nil, fmt.Errorf("response header must be %d bytes, got %d", ResponseHeaderSize, len(buf))
	}
	return &ResponseHeader{
		Status:   Status(order.Uint32(buf[0:4])),
		Filesize: int64(order.Uint64(buf[4:12])),
	}, nil
}

// SendExact writes all of b to w, looping until the full length is written
// or an unrecoverable error occurs. Partial writes never reach the caller.
func SendExact(w io.Writer, b []byte) error {
	written := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			return fmt.Errorf("send_exact: %w", err)
		}
	}
	return nil
}

// RecvExact reads exactly n bytes from r, looping until the full length is
// read or an unrecoverable error occurs. A short read due to EOF surfaces
// io.ErrUnexpectedEOF, which callers treat as a transport failure closing
// the session.
func RecvExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.Read(buf[read:])
		if m > 0 {
			read += m
		}
		if err != nil {
			if err == io.EOF && read == n {
				break
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("recv_exact: %w", err)
		}
	}
	return buf, nil
}

// SendRequest encodes and sends a RequestHeader.
func SendRequest(w io.Writer, h *RequestHeader) error {
	buf, err := h.Encode()
	if err != nil {
		return err
	}
	return SendExact(w, buf)
}

// RecvRequest reads and decodes exactly one RequestHeader.
func RecvRequest(r io.Reader) (*RequestHeader, error) {
	buf, err := RecvExact(r, RequestHeaderSize)
	if err != nil {
		return nil, err
	}
	return DecodeRequestHeader(buf)
}

// SendResponse encodes and sends a ResponseHeader.
func SendResponse(w io.Writer, h *ResponseHeader) error {
	return SendExact(w, h.Encode())
}

// RecvResponse reads and decodes exactly one ResponseHeader.
func RecvResponse(r io.Reader) (*ResponseHeader, error) {
	buf, err := RecvExact(r, ResponseHeaderSize)
	if err != nil {
		return nil, err
	}
	return DecodeResponseHeader(buf)
}
