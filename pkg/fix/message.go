package fix

import (
	"strconv"

	"github.com/quickfixgo/quickfix"
)

// Tag aliases the quickfix tag type so the constants in
// github.com/quickfixgo/tag can be used directly against this codec.
type Tag = quickfix.Tag

// Message is an ordered tag -> value mapping. Field order is preserved from
// parse / set time; Serialize rewrites it into canonical order.
type Message struct {
	tags   []Tag
	values map[Tag][]byte
}

func NewMessage() *Message {
	return &Message{values: make(map[Tag][]byte)}
}

// Set stores a field value, keeping first-set ordering for repeated Sets.
func (m *Message) Set(t Tag, value []byte) *Message {
	if _, ok := m.values[t]; !ok {
		m.tags = append(m.tags, t)
	}
	m.values[t] = value
	return m
}

func (m *Message) SetString(t Tag, value string) *Message {
	return m.Set(t, []byte(value))
}

func (m *Message) SetInt(t Tag, value int) *Message {
	return m.Set(t, []byte(strconv.Itoa(value)))
}

func (m *Message) Get(t Tag) ([]byte, bool) {
	v, ok := m.values[t]
	return v, ok
}

func (m *Message) GetString(t Tag) (string, bool) {
	v, ok := m.values[t]
	return string(v), ok
}

func (m *Message) GetInt(t Tag) (int, bool) {
	v, ok := m.values[t]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (m *Message) Has(t Tag) bool {
	_, ok := m.values[t]
	return ok
}

// Tags returns the field tags in their stored order.
func (m *Message) Tags() []Tag {
	out := make([]Tag, len(m.tags))
	copy(out, m.tags)
	return out
}

func (m *Message) Len() int { return len(m.tags) }

// MsgType is the value of tag 35, empty when absent.
func (m *Message) MsgType() string {
	v, _ := m.GetString(tagMsgType)
	return v
}
