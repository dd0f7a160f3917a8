// Package protocol defines the request/response wire format spoken
// between clients and the server.
//
// Frames are binary and self-describing, in the same style as the
// on-disk record codec:
//
//	request:  op(1) | keyLen(uvarint) | key | valueLen(uvarint) | value
//	response: status(1) | payloadLen(uvarint) | payload
//
// The value part is only present for OpSet. For StatusValue the payload
// is the value, for StatusError the error message; other statuses carry
// an empty payload. Each connection processes one request to completion
// before the next is read.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

type Op byte

const (
	OpGet Op = iota + 1
	OpSet
	OpRemove
)

type Status byte

const (
	// StatusValue is a successful response carrying a value.
	StatusValue Status = iota + 1
	// StatusNil is a successful response with no value: a Set/Remove
	// ack, or a Get for an absent key.
	StatusNil
	// StatusNotFound reports a Remove of an absent key.
	StatusNotFound
	// StatusError carries an error message; the connection stays
	// usable.
	StatusError
)

// MaxFrameSize bounds every length field so that a corrupt or hostile
// frame cannot force an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024

var (
	ErrBadFrame     = fmt.Errorf("protocol err: malformed frame")
	ErrFrameTooBig  = fmt.Errorf("protocol err: frame exceeds size limit")
	ErrUnknownOp    = fmt.Errorf("protocol err: unknown op")
	ErrBadStatus    = fmt.Errorf("protocol err: unknown status")
	ErrEmptyKeySent = fmt.Errorf("protocol err: empty key")
)

type Request struct {
	Op    Op
	Key   []byte
	Value []byte
}

type Response struct {
	Status Status
	Value  []byte
	Err    string
}

// WriteRequest marshals req into w as a single Write.
func WriteRequest(w io.Writer, req *Request) error {
	switch req.Op {
	case OpGet, OpSet, OpRemove:
	default:
		return ErrUnknownOp
	}
	if len(req.Key) == 0 {
		return ErrEmptyKeySent
	}

	buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(req.Key)+len(req.Value))
	buf = append(buf, byte(req.Op))
	buf = binary.AppendUvarint(buf, uint64(len(req.Key)))
	buf = append(buf, req.Key...)
	if req.Op == OpSet {
		buf = binary.AppendUvarint(buf, uint64(len(req.Value)))
		buf = append(buf, req.Value...)
	}

	_, err := w.Write(buf)
	return err
}

// ReadRequest reads one request frame. io.EOF before the first byte
// means the peer closed cleanly; any other failure means the stream can
// no longer be resynchronized and the connection must be dropped.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	opByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	req := &Request{Op: Op(opByte)}
	switch req.Op {
	case OpGet, OpSet, OpRemove:
	default:
		return nil, ErrUnknownOp
	}

	if req.Key, err = readChunk(r); err != nil {
		return nil, err
	}
	if len(req.Key) == 0 {
		return nil, ErrBadFrame
	}
	if req.Op == OpSet {
		if req.Value, err = readChunk(r); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// WriteResponse marshals resp into w as a single Write.
func WriteResponse(w io.Writer, resp *Response) error {
	var payload []byte
	switch resp.Status {
	case StatusValue:
		payload = resp.Value
	case StatusError:
		payload = []byte(resp.Err)
	case StatusNil, StatusNotFound:
	default:
		return ErrBadStatus
	}

	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	buf = append(buf, byte(resp.Status))
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadResponse reads one response frame.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	statusByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: Status(statusByte)}
	payload, err := readChunk(r)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case StatusValue:
		resp.Value = payload
	case StatusError:
		resp.Err = string(payload)
	case StatusNil, StatusNotFound:
		if len(payload) != 0 {
			return nil, ErrBadFrame
		}
	default:
		return nil, ErrBadStatus
	}
	return resp, nil
}

func readChunk(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err = io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}
