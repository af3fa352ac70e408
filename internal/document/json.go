package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	j "github.com/goccy/go-json"
)

// ErrTrailingData is returned when a JSON input holds more than one value.
var ErrTrailingData = errors.New("document: trailing data after JSON value")

// ParseJSON decodes a JSON document keeping object key order.
func ParseJSON(data []byte) (*Node, error) {
	return DecodeJSON(bytes.NewReader(data))
}

// DecodeJSON decodes a single JSON value from r keeping object key order.
func DecodeJSON(r io.Reader) (*Node, error) {
	dec := j.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	n, err := decodeValue(dec, tok)
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return n, nil
}

func decodeValue(dec *j.Decoder, tok j.Token) (*Node, error) {
	switch v := tok.(type) {
	case j.Delim:
		switch v {
		case '{':
			out := NewMapping()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("expected object key, got %v", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				child, err := decodeValue(dec, vt)
				if err != nil {
					return nil, err
				}
				out.Entries = append(out.Entries, Entry{Key: key, Value: child})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return out, nil
		case '[':
			out := NewSequence()
			for dec.More() {
				it, err := dec.Token()
				if err != nil {
					return nil, err
				}
				child, err := decodeValue(dec, it)
				if err != nil {
					return nil, err
				}
				out.Items = append(out.Items, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return out, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", rune(v))
	case string:
		return NewString(v), nil
	case bool:
		return NewBool(v), nil
	case j.Number:
		return NewNumber(string(v)), nil
	case float64:
		return FromValue(v), nil
	case nil:
		return NewNull(), nil
	}
	return nil, fmt.Errorf("unexpected token %T", tok)
}

// MarshalJSON writes the node as JSON preserving mapping order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IndentJSON renders n as indented JSON.
func IndentJSON(n *Node) ([]byte, error) {
	raw, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := j.Indent(&buf, raw, "", "    "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, n *Node) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case Null:
		buf.WriteString("null")
	case Scalar:
		switch v := n.Value.(type) {
		case Number:
			buf.WriteString(string(v))
			return nil
		}
		b, err := j.Marshal(n.Value)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Mapping:
		buf.WriteByte('{')
		for i, e := range n.Entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := j.Marshal(e.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := writeJSON(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Sequence:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Other:
		b, err := j.Marshal(n.Value)
		if err != nil {
			b, _ = j.Marshal(fmt.Sprint(n.Value))
		}
		buf.Write(b)
	default:
		return fmt.Errorf("unknown node kind %v", n.Kind)
	}
	return nil
}

// OtherText is the display text of a value with no tree form: its JSON
// encoding when it has one, with string results unquoted, else its fmt
// rendering.
func OtherText(v any) string {
	b, err := j.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var s string
	if len(b) > 0 && b[0] == '"' && j.Unmarshal(b, &s) == nil {
		return s
	}
	return string(b)
}
