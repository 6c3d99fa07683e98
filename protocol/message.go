package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	ErrMalformedMessage = errors.New("Message is malformed and could not be decoded")
	ErrMissingMessageID = errors.New("Message is missing the mandatory 'id' field")
)

// MessageID is the name of the mandatory discriminator field every
// message carries. Its value names the purpose of the message
// (e.g. "login.req", "market.buy.res", "error") and is compared
// case-insensitively.
const MessageID = "id"

// Field is a single key/value entry of a Message. Fields keep the
// order they were added in, both on the wire and in the text form.
type Field struct {
	Key   string
	Value interface{}
}

// Message is the application-level request/response envelope: an
// ordered mapping of field names to typed values. A message is built
// immediately before send and must be treated as immutable once it has
// been handed to a dispatch handler. Handlers answer by building a new
// message.
//
// Supported value types are string, int64, uint64, bool,
// decimal.Decimal, []byte, nested *Message and []interface{} lists.
type Message struct {
	fields []Field
}

// New creates a message whose first field is the mandatory id.
func New(id string) *Message {
	m := &Message{}
	return m.With(MessageID, id)
}

// NewMap creates an empty envelope for use as a nested field value.
// Nested maps do not carry an id.
func NewMap() *Message {
	return &Message{}
}

// ID returns the message id, or "" if the field is somehow absent.
// The id key matches case-insensitively, peers may send "Id" or "ID".
func (m *Message) ID() string {
	for i := range m.fields {
		if strings.EqualFold(m.fields[i].Key, MessageID) {
			return m.String(m.fields[i].Key)
		}
	}

	return ""
}

func (m *Message) hasID() bool {
	for i := range m.fields {
		if strings.EqualFold(m.fields[i].Key, MessageID) {
			return true
		}
	}

	return false
}

// With sets a field and returns the same message so calls can be
// chained when building a message for send. Setting an existing key
// replaces its value in place, keeping the original field order.
func (m *Message) With(key string, value interface{}) *Message {
	for i := range m.fields {
		if m.fields[i].Key == key {
			m.fields[i].Value = value
			return m
		}
	}

	m.fields = append(m.fields, Field{Key: key, Value: value})
	return m
}

// Get returns the raw value of a field.
func (m *Message) Get(key string) (interface{}, bool) {
	for i := range m.fields {
		if m.fields[i].Key == key {
			return m.fields[i].Value, true
		}
	}

	return nil, false
}

// Fields returns the ordered fields of the message.
func (m *Message) Fields() []Field {
	return m.fields
}

func (m *Message) String(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}

	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (m *Message) Int(key string) int64 {
	switch v, _ := m.Get(key); n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case decimal.Decimal:
		return n.IntPart()
	default:
		return 0
	}
}

func (m *Message) Uint(key string) uint64 {
	switch v, _ := m.Get(key); n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func (m *Message) Bool(key string) bool {
	v, _ := m.Get(key)
	b, _ := v.(bool)
	return b
}

// Decimal reads a decimal field. Decimals travel as strings on the
// wire and as raw numbers in the text form, so both shapes parse here.
func (m *Message) Decimal(key string) decimal.Decimal {
	switch v, _ := m.Get(key); n := v.(type) {
	case decimal.Decimal:
		return n
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	case int64:
		return decimal.NewFromInt(n)
	case uint64:
		return decimal.NewFromUint64(n)
	case float64:
		return decimal.NewFromFloat(n)
	default:
		return decimal.Zero
	}
}

// Bytes reads a blob field. Blobs coming back through the text form
// arrive as 0x-prefixed hex strings and are converted back here.
func (m *Message) Bytes(key string) []byte {
	switch v, _ := m.Get(key); b := v.(type) {
	case []byte:
		return b
	case string:
		if strings.HasPrefix(b, "0x") {
			if raw, err := hex.DecodeString(b[2:]); err == nil {
				return raw
			}
		}
		return []byte(b)
	default:
		return nil
	}
}

// Map reads a nested message field.
func (m *Message) Map(key string) *Message {
	v, _ := m.Get(key)
	nested, _ := v.(*Message)
	return nested
}

// List reads a list field.
func (m *Message) List(key string) []interface{} {
	v, _ := m.Get(key)
	list, _ := v.([]interface{})
	return list
}

// Encode serializes the message to its compact binary wire form:
// a msgpack map written in field order.
func (m *Message) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := encodeFields(enc, m.fields); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeFields(enc *msgpack.Encoder, fields []Field) error {
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}

	for _, f := range fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return err
		}

		if err := encodeValue(enc, f.Value); err != nil {
			return err
		}
	}

	return nil
}

func encodeValue(enc *msgpack.Encoder, value interface{}) error {
	switch v := value.(type) {
	case *Message:
		return encodeFields(enc, v.fields)

	case decimal.Decimal:
		return enc.EncodeString(v.String())

	case []interface{}:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil

	case []string:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := enc.EncodeString(item); err != nil {
				return err
			}
		}
		return nil

	default:
		return enc.Encode(v)
	}
}

// Decode parses the binary wire form produced by Encode. It fails with
// ErrMalformedMessage when the bytes are not a well-formed envelope and
// with ErrMissingMessageID when the mandatory id field is absent.
func Decode(data []byte) (*Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	m, err := decodeMessage(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if !m.hasID() {
		return nil, ErrMissingMessageID
	}

	return m, nil
}

func decodeMessage(dec *msgpack.Decoder) (*Message, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}

	m := &Message{fields: make([]Field, 0, n)}

	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}

		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		m.fields = append(m.fields, Field{Key: key, Value: value})
	}

	return m, nil
}

func decodeValue(dec *msgpack.Decoder) (interface{}, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case msgpcode.IsFixedMap(code), code == msgpcode.Map16, code == msgpcode.Map32:
		return decodeMessage(dec)

	case msgpcode.IsFixedArray(code), code == msgpcode.Array16, code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}

		list := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			item, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil

	default:
		return dec.DecodeInterfaceLoose()
	}
}

// Text renders the message as JSON, preserving field order. This is
// the human readable form used for logging and debugging.
func (m *Message) Text() string {
	out := []byte(`{}`)

	for _, f := range m.fields {
		out = setTextField(out, f.Key, f.Value)
	}

	return string(out)
}

func setTextField(out []byte, path string, value interface{}) []byte {
	switch v := value.(type) {
	case *Message:
		out, _ = sjson.SetRawBytes(out, path, []byte(v.Text()))

	case decimal.Decimal:
		out, _ = sjson.SetRawBytes(out, path, []byte(v.String()))

	case []byte:
		out, _ = sjson.SetBytes(out, path, "0x"+hex.EncodeToString(v))

	case []interface{}:
		out, _ = sjson.SetRawBytes(out, path, []byte(`[]`))
		for _, item := range v {
			out = setTextField(out, path+".-1", item)
		}

	default:
		out, _ = sjson.SetBytes(out, path, v)
	}

	return out
}

// ParseText parses the JSON text form back into a message.
func ParseText(text string) (*Message, error) {
	if !gjson.Valid(text) {
		return nil, ErrMalformedMessage
	}

	root := gjson.Parse(text)
	if !root.IsObject() {
		return nil, ErrMalformedMessage
	}

	m := &Message{}
	root.ForEach(func(key, value gjson.Result) bool {
		m.fields = append(m.fields, Field{Key: key.String(), Value: textValue(value)})
		return true
	})

	if !m.hasID() {
		return nil, ErrMissingMessageID
	}

	return m, nil
}

func textValue(r gjson.Result) interface{} {
	switch {
	case r.IsObject():
		nested := &Message{}
		r.ForEach(func(key, value gjson.Result) bool {
			nested.fields = append(nested.fields, Field{Key: key.String(), Value: textValue(value)})
			return true
		})
		return nested

	case r.IsArray():
		var list []interface{}
		for _, item := range r.Array() {
			list = append(list, textValue(item))
		}
		return list

	case r.Type == gjson.Number:
		// Keep integers exact and let everything else stay a decimal
		// instead of collapsing to float64.
		if !strings.ContainsAny(r.Raw, ".eE") {
			return r.Int()
		}
		if d, err := decimal.NewFromString(r.Raw); err == nil {
			return d
		}
		return r.Float()

	case r.Type == gjson.True:
		return true

	case r.Type == gjson.False:
		return false

	case r.Type == gjson.String:
		return r.String()

	default:
		return nil
	}
}
