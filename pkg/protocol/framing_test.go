package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	var hash [32]byte
	copy(hash[:], []byte("0123456789abcdef0123456789abcdef"))

	req := &RequestHeader{
		Command:   Upload,
		Filename:  "hello.txt",
		Filesize:  6,
		Offset:    0,
		FileHash:  hash,
		Recipient: strings.Repeat("a", 64),
	}

	buf, err := req.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != RequestHeaderSize {
		t.Fatalf("expected %d bytes, got %d", RequestHeaderSize, len(buf))
	}

	decoded, err := DecodeRequestHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Command != req.Command || decoded.Filename != req.Filename ||
		decoded.Filesize != req.Filesize || decoded.Offset != req.Offset ||
		decoded.FileHash != req.FileHash || decoded.Recipient != req.Recipient {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, req)
	}
}

func TestRequestHeaderEmptyRecipient(t *testing.T) {
	req := &RequestHeader{Command: Download, Filename: "f", Offset: 3}
	buf, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeRequestHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Recipient != "" {
		t.Errorf("expected empty recipient, got %q", decoded.Recipient)
	}
}

func TestRequestHeaderFieldTooLong(t *testing.T) {
	req := &RequestHeader{Filename: strings.Repeat("a", 256)}
	if _, err := req.Encode(); err == nil {
		t.Error("expected error for filename exceeding 255 usable bytes")
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	resp := &ResponseHeader{Status: StatusIntegrityError, Filesize: 0}
	buf := resp.Encode()
	if len(buf) != ResponseHeaderSize {
		t.Fatalf("expected %d bytes, got %d", ResponseHeaderSize, len(buf))
	}
	decoded, err := DecodeResponseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if *decoded != *resp {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, resp)
	}
}

func TestSendRecvExact(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := []byte("the quick brown fox")
	if err := SendExact(buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := RecvExact(buf, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestRecvExactShortReadIsUnexpectedEOF(t *testing.T) {
	buf := bytes.NewBufferString("short")
	_, err := RecvExact(buf, 100)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestSendRecvRequestRoundTrip(t *testing.T) {
	conn := &bytes.Buffer{}
	req := &RequestHeader{Command: List}
	if err := SendRequest(conn, req); err != nil {
		t.Fatal(err)
	}
	got, err := RecvRequest(conn)
	if err != nil {
		t.Fatal(err)
	}
	if got.Command != List {
		t.Fatalf("got command %v, want List", got.Command)
	}
}

func TestCommandAndStatusStrings(t *testing.T) {
	if Upload.String() != "UPLOAD" || Download.String() != "DOWNLOAD" || List.String() != "LIST" {
		t.Fatal("unexpected Command.String() output")
	}
	if StatusSuccess.String() != "SUCCESS" || StatusInvalidOffset.String() != "INVALID_OFFSET" {
		t.Fatal("unexpected Status.String() output")
	}
}
