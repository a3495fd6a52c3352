package fix

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/quickfixgo/tag"
)

// SOH is the FIX field delimiter.
const SOH byte = 0x01

// BeginString42 is the only protocol version this venue speaks.
const BeginString42 = "FIX.4.2"

// aliases for the handful of tags the codec itself needs; everything else
// goes through the constants in github.com/quickfixgo/tag at call sites.
const (
	tagBeginString = tag.BeginString
	tagBodyLength  = tag.BodyLength
	tagMsgType     = tag.MsgType
	tagCheckSum    = tag.CheckSum
)

// Checksum sums every byte of data mod 256. The caller decides how much of
// the frame to feed it (everything up to and including the SOH before 10=).
func Checksum(data []byte) int {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return sum % 256
}

// Serialize writes the message in canonical order: 8, 9, 35, remaining tags
// ascending, 10. BodyLength and Checksum are computed here; any 8/9/10
// values already present on the message are ignored.
func Serialize(m *Message) []byte {
	return serialize(m, SOH)
}

// SerializeWithSeparator is the test-only variant that swaps SOH for a
// readable delimiter. Never use it on a live transport.
func SerializeWithSeparator(m *Message, sep byte) []byte {
	return serialize(m, sep)
}

func serialize(m *Message, sep byte) []byte {
	rest := make([]Tag, 0, m.Len())
	for _, t := range m.Tags() {
		switch t {
		case tagBeginString, tagBodyLength, tagMsgType, tagCheckSum:
			continue
		}
		rest = append(rest, t)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })

	var body bytes.Buffer
	writeField(&body, tagMsgType, []byte(m.MsgType()), sep)
	for _, t := range rest {
		v, _ := m.Get(t)
		writeField(&body, t, v, sep)
	}

	var out bytes.Buffer
	writeField(&out, tagBeginString, []byte(BeginString42), sep)
	writeField(&out, tagBodyLength, []byte(strconv.Itoa(body.Len())), sep)
	out.Write(body.Bytes())

	checksum := Checksum(out.Bytes())
	fmt.Fprintf(&out, "%d=%03d%c", tagCheckSum, checksum, sep)
	return out.Bytes()
}

func writeField(buf *bytes.Buffer, t Tag, v []byte, sep byte) {
	buf.WriteString(strconv.Itoa(int(t)))
	buf.WriteByte('=')
	buf.Write(v)
	buf.WriteByte(sep)
}

// Parse decodes one complete frame, verifying structure, BodyLength and
// checksum.
func Parse(data []byte) (*Message, error) {
	return parse(data, SOH, true)
}

// ParseUnchecked skips checksum verification. Test helper.
func ParseUnchecked(data []byte) (*Message, error) {
	return parse(data, SOH, false)
}

// ParseWithSeparator accepts the test-only readable delimiter. Checksum is
// not verified since it is computed over SOH-delimited bytes.
func ParseWithSeparator(data []byte, sep byte) (*Message, error) {
	return parse(data, sep, false)
}

func parse(data []byte, sep byte, verifyChecksum bool) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrMalformedMessage
	}
	if data[len(data)-1] != sep {
		return nil, fmt.Errorf("%w: frame does not end with delimiter", ErrMalformedMessage)
	}

	fields := bytes.Split(data[:len(data)-1], []byte{sep})
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedMessage, len(fields))
	}

	m := NewMessage()
	var checksumOffset int
	offset := 0
	for i, f := range fields {
		eq := bytes.IndexByte(f, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: field %q", ErrMalformedMessage, f)
		}
		tagNum, err := strconv.Atoi(string(f[:eq]))
		if err != nil || tagNum <= 0 {
			return nil, fmt.Errorf("%w: tag %q", ErrMalformedMessage, f[:eq])
		}
		t := Tag(tagNum)
		if m.Has(t) {
			return nil, fmt.Errorf("%w: tag %d", ErrDuplicateTag, tagNum)
		}

		switch i {
		case 0:
			if t != tagBeginString {
				return nil, fmt.Errorf("%w: first field is %d, want 8", ErrMalformedMessage, tagNum)
			}
		case 1:
			if t != tagBodyLength {
				return nil, fmt.Errorf("%w: second field is %d, want 9", ErrMalformedMessage, tagNum)
			}
		case 2:
			if t != tagMsgType {
				return nil, fmt.Errorf("%w: third field is %d, want 35", ErrMalformedMessage, tagNum)
			}
		}
		if i == len(fields)-1 {
			if t != tagCheckSum {
				return nil, fmt.Errorf("%w: last field is %d, want 10", ErrMalformedMessage, tagNum)
			}
			checksumOffset = offset
		}

		m.Set(t, append([]byte(nil), f[eq+1:]...))
		offset += len(f) + 1
	}

	bodyLen, ok := m.GetInt(tagBodyLength)
	if !ok {
		return nil, fmt.Errorf("%w: unreadable BodyLength", ErrMalformedMessage)
	}
	// body runs from just past "9=<n><SOH>" to just before "10="
	bodyStart := len(fields[0]) + 1 + len(fields[1]) + 1
	if got := checksumOffset - bodyStart; got != bodyLen {
		return nil, fmt.Errorf("%w: declared %d, actual %d", ErrBodyLengthMismatch, bodyLen, got)
	}

	if verifyChecksum {
		declared, ok := m.GetString(tagCheckSum)
		if !ok || len(declared) != 3 {
			return nil, fmt.Errorf("%w: checksum %q", ErrMalformedMessage, declared)
		}
		want, err := strconv.Atoi(declared)
		if err != nil {
			return nil, fmt.Errorf("%w: checksum %q", ErrMalformedMessage, declared)
		}
		if got := Checksum(data[:checksumOffset]); got != want {
			return nil, fmt.Errorf("%w: declared %03d, computed %03d", ErrChecksumMismatch, want, got)
		}
	}

	return m, nil
}
