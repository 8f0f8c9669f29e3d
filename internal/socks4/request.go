package socks4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

const (
	// Version is the SOCKS4 version marker, the first byte of every request.
	Version = 0x04

	CmdConnect = 0x01
	CmdBind    = 0x02

	// MaxFieldLen caps the NUL-terminated userid and hostname fields.
	MaxFieldLen = 255

	headerLen = 8
)

var (
	// ErrMalformedRequest is wrapped by every decode failure.
	ErrMalformedRequest = errors.New("socks4: malformed request")

	ErrBadVersion     = fmt.Errorf("%w: bad version", ErrMalformedRequest)
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrMalformedRequest)
	ErrFieldTooLong   = fmt.Errorf("%w: unterminated field", ErrMalformedRequest)
	ErrEmptyHostname  = fmt.Errorf("%w: empty hostname", ErrMalformedRequest)

	// ErrUnsupportedCommand is not returned by the decoder; servers use it
	// when rejecting a request whose Unsupported method reports true.
	ErrUnsupportedCommand = fmt.Errorf("%w: command not supported", ErrMalformedRequest)
)

// Request is a decoded SOCKS4 or SOCKS4a request.
type Request struct {
	Command byte
	Port    uint16

	// IP is the literal destination. It is invalid for SOCKS4a requests.
	IP netip.Addr

	// Hostname is the SOCKS4a destination name, empty for plain SOCKS4.
	Hostname string

	UserID string

	// Raw holds the request's port and address bytes as sent, for echoing
	// in the reply.
	Raw [6]byte
}

// IsSOCKS4a reports whether the destination is a hostname.
func (r *Request) IsSOCKS4a() bool {
	return r.Hostname != ""
}

// Unsupported reports whether the command decoded but cannot be served.
func (r *Request) Unsupported() bool {
	return r.Command == CmdBind
}

// Address returns the requested destination as host:port.
func (r *Request) Address() string {
	host := r.Hostname
	if host == "" {
		host = r.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// ReadRequest reads one request from r.
//
// If r yields no bytes at all, io.EOF is returned unwrapped so callers can
// treat it as a silent disconnect. The version byte is checked as soon as it
// arrives, before the rest of the header. Once the fixed header has been
// read, a non-nil *Request is returned even on error so the caller can echo
// Raw in a failure reply.
//
// When r is an io.ByteReader (a *bufio.Reader, say) fields are taken from it
// a byte at a time and anything it buffered past the request stays readable
// from r. Otherwise fields are read with one-byte reads so nothing past the
// request is consumed.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	if hdr[0] != Version {
		return nil, fmt.Errorf("%w: %#02x", ErrBadVersion, hdr[0])
	}

	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	req := &Request{
		Command: hdr[1],
		Port:    binary.BigEndian.Uint16(hdr[2:4]),
	}
	copy(req.Raw[:], hdr[2:8])

	if req.Command != CmdConnect && req.Command != CmdBind {
		return req, fmt.Errorf("%w: %#02x", ErrUnknownCommand, req.Command)
	}

	userID, err := readField(r)
	if err != nil {
		return req, fmt.Errorf("userid: %w", err)
	}
	req.UserID = userID

	addr := [4]byte(hdr[4:8])
	if !isSOCKS4a(addr) {
		req.IP = netip.AddrFrom4(addr)
		return req, nil
	}

	host, err := readField(r)
	if err != nil {
		return req, fmt.Errorf("hostname: %w", err)
	}
	if host == "" {
		return req, ErrEmptyHostname
	}
	req.Hostname = host
	return req, nil
}

// ParseRequest decodes a complete request frame held in memory. Bytes after
// the request are ignored.
func ParseRequest(b []byte) (*Request, error) {
	return ReadRequest(bytes.NewReader(b))
}

// isSOCKS4a reports whether addr is of the form 0.0.0.x with x != 0.
func isSOCKS4a(addr [4]byte) bool {
	return addr[0] == 0 && addr[1] == 0 && addr[2] == 0 && addr[3] != 0
}

// readField reads a NUL-terminated field of at most MaxFieldLen bytes.
func readField(r io.Reader) (string, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	buf := make([]byte, 0, 32)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: %w", ErrMalformedRequest, io.ErrUnexpectedEOF)
			}
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		if len(buf) == MaxFieldLen {
			return "", ErrFieldTooLong
		}
		buf = append(buf, b)
	}
}

type byteReader struct {
	r io.Reader
	b [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.r, br.b[:]); err != nil {
		return 0, err
	}
	return br.b[0], nil
}
