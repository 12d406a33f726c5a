package address

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Persisted field names, in write order.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

// FieldEncoder receives named text fields in order.
type FieldEncoder interface {
	EncodeField(key, value string) error
}

// FieldDecoder looks up named text fields. A missing field reports ok=false.
type FieldDecoder interface {
	DecodeField(key string) (value string, ok bool, err error)
}

// EncodeFields writes the raw name and email. Encoded-words are not decoded.
func (a Address) EncodeFields(enc FieldEncoder) error {
	if err := enc.EncodeField(FieldName, a.name); err != nil {
		return fmt.Errorf("encode %s: %w", FieldName, err)
	}
	if err := enc.EncodeField(FieldEmail, a.email); err != nil {
		return fmt.Errorf("encode %s: %w", FieldEmail, err)
	}
	return nil
}

// DecodeFields restores the name and email written by EncodeFields. Missing
// fields decode as empty text.
func (a *Address) DecodeFields(dec FieldDecoder) error {
	name, _, err := dec.DecodeField(FieldName)
	if err != nil {
		return fmt.Errorf("decode %s: %w", FieldName, err)
	}
	email, _, err := dec.DecodeField(FieldEmail)
	if err != nil {
		return fmt.Errorf("decode %s: %w", FieldEmail, err)
	}
	a.name = name
	a.email = email
	return nil
}

// Field is a single named text field.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered in-memory FieldEncoder and FieldDecoder.
type Fields []Field

func (f *Fields) EncodeField(key, value string) error {
	*f = append(*f, Field{Key: key, Value: value})
	return nil
}

func (f Fields) DecodeField(key string) (string, bool, error) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true, nil
		}
	}
	return "", false, nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	var fields Fields
	if err := a.EncodeFields(&fields); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		v, err := marshalJSONValue(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// binaryValue carries text that is not valid UTF-8, which a JSON string
// cannot hold without replacing bytes.
type binaryValue struct {
	Base64 []byte `json:"base64"`
}

func marshalJSONValue(value string) ([]byte, error) {
	if utf8.ValidString(value) {
		return json.Marshal(value)
	}
	return json.Marshal(binaryValue{Base64: []byte(value)})
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	return a.DecodeFields(jsonFields(raw))
}

type jsonFields map[string]json.RawMessage

func (j jsonFields) DecodeField(key string) (string, bool, error) {
	raw, ok := j[key]
	if !ok {
		return "", false, nil
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var bin binaryValue
		if err := json.Unmarshal(trimmed, &bin); err != nil {
			return "", true, err
		}
		return string(bin.Base64), true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, err
	}
	return s, true, nil
}

func (a Address) MarshalYAML() (interface{}, error) {
	var fields Fields
	if err := a.EncodeFields(&fields); err != nil {
		return nil, err
	}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, field := range fields {
		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: field.Value}
		if !utf8.ValidString(field.Value) {
			value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString([]byte(field.Value))}
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: field.Key},
			value,
		)
	}
	return node, nil
}

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("address: line %d: expected a mapping", value.Line)
	}
	var fields Fields
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("address: line %d: field %q is not text", v.Line, k.Value)
		}
		switch v.Tag {
		case "!!null":
			continue
		case "!!binary":
			data, err := base64.StdEncoding.DecodeString(v.Value)
			if err != nil {
				return fmt.Errorf("address: line %d: field %q: %w", v.Line, k.Value, err)
			}
			fields = append(fields, Field{Key: k.Value, Value: string(data)})
			continue
		}
		fields = append(fields, Field{Key: k.Value, Value: v.Value})
	}
	return a.DecodeFields(fields)
}
