package socks4

import (
	"fmt"
	"io"
)

const (
	StatusGranted  = 0x5A
	StatusRejected = 0x5B
)

// Reply returns the 8-byte reply frame for status, echoing raw.
func Reply(status byte, raw [6]byte) [8]byte {
	return [8]byte{0x00, status, raw[0], raw[1], raw[2], raw[3], raw[4], raw[5]}
}

// WriteReply writes the reply frame for status to w.
func WriteReply(w io.Writer, status byte, raw [6]byte) error {
	b := Reply(status, raw)
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
