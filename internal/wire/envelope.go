package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single upstream envelope. Frames claiming a
// larger body are discarded without being read into memory, mirroring
// the "oversized frames above a configured cap are discarded and
// logged" edge case.
const MaxFrameSize = 16 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the length prefix
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds max size")

// ErrMalformed wraps a body that failed to decode; the caller should
// count it and continue reading, not tear down the connection.
type ErrMalformed struct {
	Type FrameType
	Err  error
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("wire: malformed frame type %c: %v", e.Type, e.Err)
}

func (e *ErrMalformed) Unwrap() error { return e.Err }

// WriteFrame encodes f and writes its length-prefixed envelope to w.
// Envelope shape: 2-byte big-endian length + 1-byte type + body.
func WriteFrame(w io.Writer, f *Frame) error {
	body, err := encodeBody(f)
	if err != nil {
		return err
	}
	if len(body)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 2+1+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(body)+1))
	buf[2] = byte(f.Type)
	copy(buf[3:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed envelope from r. Partial reads
// across network buffers are reassembled by the underlying bufio.Reader;
// callers should wrap a net.Conn in a *bufio.Reader once and reuse it
// across calls so TCP segment boundaries never split a frame.
//
// A malformed body yields (*Frame, *ErrMalformed): the frame was
// correctly delimited but its contents didn't parse. Callers should skip
// it and keep reading rather than closing the connection.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, err
		}
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return nil, &ErrMalformed{Err: errors.New("empty frame")}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	typ := FrameType(body[0])
	f, err := decodeBody(typ, body[1:])
	if err != nil {
		return f, &ErrMalformed{Type: typ, Err: err}
	}
	return f, nil
}
