package fix

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	// "10=XXX<SOH>"
	trailerLen = 7

	defaultMaxFrameSize = 1 << 16
)

var beginStringPrefix = []byte("8=" + BeginString42 + string(rune(SOH)))

// Framer accumulates raw transport bytes for one connection and cuts them
// into complete FIX frames using the BodyLength rule. It never parses past
// the header fields; full validation is the codec's job.
type Framer struct {
	buf          bytes.Buffer
	maxFrameSize int
}

func NewFramer() *Framer {
	return &Framer{maxFrameSize: defaultMaxFrameSize}
}

func (f *Framer) Append(data []byte) {
	f.buf.Write(data)
}

func (f *Framer) Buffered() int { return f.buf.Len() }

// Next extracts one complete frame, or returns nil when more bytes are
// needed. A malformed or oversized prefix is a protocol error; the caller
// is expected to disconnect.
func (f *Framer) Next() ([]byte, error) {
	data := f.buf.Bytes()
	if len(data) == 0 {
		return nil, nil
	}

	if !bytes.HasPrefix(data, beginStringPrefix) {
		if len(data) < len(beginStringPrefix) && bytes.HasPrefix(beginStringPrefix, data) {
			return nil, nil // could still become a valid prefix
		}
		return nil, fmt.Errorf("%w: no BeginString at buffer head", ErrMalformedMessage)
	}

	rest := data[len(beginStringPrefix):]
	if !bytes.HasPrefix(rest, []byte("9=")) {
		if len(rest) < 2 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: BodyLength does not follow BeginString", ErrMalformedMessage)
	}

	soh := bytes.IndexByte(rest, SOH)
	if soh < 0 {
		if len(rest) > 12 {
			return nil, fmt.Errorf("%w: unterminated BodyLength", ErrMalformedMessage)
		}
		return nil, nil
	}

	bodyLen, err := strconv.Atoi(string(rest[2:soh]))
	if err != nil || bodyLen < 0 {
		return nil, fmt.Errorf("%w: BodyLength %q", ErrMalformedMessage, rest[2:soh])
	}

	frameLen := len(beginStringPrefix) + soh + 1 + bodyLen + trailerLen
	if frameLen > f.maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frameLen)
	}
	if len(data) < frameLen {
		return nil, nil
	}

	frame := append([]byte(nil), data[:frameLen]...)
	f.buf.Next(frameLen)
	return frame, nil
}
