package hl7

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
)

const (
	StartBlock     byte = 0x0B
	EndBlock       byte = 0x1C
	CarriageReturn byte = 0x0D

	// MaxFrameSize bounds a single inbound frame.
	MaxFrameSize = 1 << 20
)

var ErrFrameTooLarge = errors.New("mllp: frame exceeds maximum size")

// Frame wraps an HL7 payload as <VT> payload <FS><CR>.
func Frame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, payload...)
	return append(frame, EndBlock, CarriageReturn)
}

// Unframe extracts the first complete frame from data, returning the payload,
// the bytes after the frame and whether a frame was found.
func Unframe(data []byte) (payload, rest []byte, found bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}

// ReadFrame blocks until one full frame has been read from r. Bytes before the
// start block are discarded. Neither the discarded prefix nor the payload may
// grow past MaxFrameSize, so a peer that never sends the end block cannot make
// the reader buffer without limit.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	if err := skipToStart(r); err != nil {
		return nil, err
	}

	var payload []byte
	for {
		chunk, err := r.ReadSlice(EndBlock)
		// the trailing end block is counted but not returned
		if len(payload)+len(chunk) > MaxFrameSize+1 {
			return nil, ErrFrameTooLarge
		}
		payload = append(payload, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, err
		}

		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == CarriageReturn {
			return payload[:len(payload)-1], nil
		}
		if err := r.UnreadByte(); err != nil {
			return nil, fmt.Errorf("mllp: %w", err)
		}
	}
}

func skipToStart(r *bufio.Reader) error {
	skipped := 0
	for {
		chunk, err := r.ReadSlice(StartBlock)
		skipped += len(chunk)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
		if skipped > MaxFrameSize {
			return ErrFrameTooLarge
		}
	}
}
