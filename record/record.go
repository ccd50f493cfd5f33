// Package record implements the stream record framing shared by the
// backup and restore pipelines: StreamCodec encodes and decodes the
// (file_index, stream_id, length) header plus its payload bytes over a
// RecordLink.
package record

import (
	"bufio"
	"fmt"
	"io"

	"github.com/fametec/filed/streamid"
)

// Record is the framed unit on the wire.
type Record struct {
	FileIndex uint32
	StreamID  streamid.ID
	Payload   []byte
}

// Link is the RecordLink collaborator. The core never
// defines transport, TLS, flow control, or wire compression below this
// interface; a concrete Link might be a TCP connection, a message
// broker topic, or (for tests) an in-memory pipe.
type Link interface {
	SendHeader(fileIndex uint32, id streamid.ID, length uint32) error
	SendPayload(buf []byte) error
	SignalEOD() error

	RecvHeader() (fileIndex uint32, id streamid.ID, length uint32, err error)
	RecvPayload(length uint32) ([]byte, error)
}

// FatalError marks an error that must abort the whole job: any send failure, or a recv failure while a file is
// mid-extraction.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Codec wraps a Link with the StreamCodec contract: send_header →
// send_payload → signal_eod, and the symmetric receive calls. It owns
// no shared I/O buffer of its own beyond what bufio gives a
// byteLink-backed implementation; TransformChain borrows the buffer it
// is handed by the caller.
type Codec struct {
	link Link
}

// NewCodec wraps link in a Codec.
func NewCodec(link Link) *Codec {
	return &Codec{link: link}
}

// SendRecord emits one record's header and payload. Any error is
// FatalError.
func (c *Codec) SendRecord(fileIndex uint32, id streamid.ID, payload []byte) error {
	if err := c.link.SendHeader(fileIndex, id, uint32(len(payload))); err != nil {
		return &FatalError{Err: fmt.Errorf("send header: %w", err)}
	}
	if len(payload) > 0 {
		if err := c.link.SendPayload(payload); err != nil {
			return &FatalError{Err: fmt.Errorf("send payload: %w", err)}
		}
	}
	return nil
}

// SignalEOD sends the terminal marker for the current file's record
// group.
func (c *Codec) SignalEOD() error {
	if err := c.link.SignalEOD(); err != nil {
		return &FatalError{Err: fmt.Errorf("signal eod: %w", err)}
	}
	return nil
}

// RecvRecord receives one header+payload pair. The caller (RestoreFSM)
// decides whether a recv error during active extraction is fatal;
// Codec itself just reports it.
func (c *Codec) RecvRecord() (Record, error) {
	fi, id, length, err := c.link.RecvHeader()
	if err != nil {
		return Record{}, fmt.Errorf("recv header: %w", err)
	}
	var payload []byte
	if length > 0 {
		payload, err = c.link.RecvPayload(length)
		if err != nil {
			return Record{}, fmt.Errorf("recv payload: %w", err)
		}
	}
	return Record{FileIndex: fi, StreamID: id, Payload: payload}, nil
}

// ByteLink is a reference RecordLink implementation over a plain
// io.ReadWriter, using a bit-exact ASCII header framing:
// `"%d %d %d\n"` (file_index, stream_id, length) followed by
// `length` payload bytes. EndOfData is signalled as a header record
// with stream id streamid.EndOfData and length 0.
//
// This is the minimal concrete Link a cmd/filed demo or a test needs;
// a production deployment would implement Link directly over its own
// transport (TLS socket, message broker, etc. — out of scope here).
type ByteLink struct {
	w *bufio.Writer
	r *bufio.Reader
}

// NewByteLink wraps rw.
func NewByteLink(w io.Writer, r io.Reader) *ByteLink {
	return &ByteLink{w: bufio.NewWriter(w), r: bufio.NewReader(r)}
}

func (b *ByteLink) SendHeader(fileIndex uint32, id streamid.ID, length uint32) error {
	_, err := fmt.Fprintf(b.w, "%d %d %d\n", fileIndex, id, length)
	return err
}

func (b *ByteLink) SendPayload(buf []byte) error {
	if _, err := b.w.Write(buf); err != nil {
		return err
	}
	return b.w.Flush()
}

func (b *ByteLink) SignalEOD() error {
	if err := b.SendHeader(0, streamid.EndOfData, 0); err != nil {
		return err
	}
	return b.w.Flush()
}

func (b *ByteLink) RecvHeader() (uint32, streamid.ID, uint32, error) {
	var fi, length uint32
	var id int32
	_, err := fmt.Fscanf(b.r, "%d %d %d\n", &fi, &id, &length)
	if err != nil {
		return 0, 0, 0, err
	}
	return fi, streamid.ID(id), length, nil
}

func (b *ByteLink) RecvPayload(length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ Link = (*ByteLink)(nil)
