package bucket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/pior/memdoc/internal"
)

var documentBuffers = internal.NewBufferPool(512)

// encodeDocument renders values as a flat JSON object, field by field in
// schema order. Unset fields are omitted.
func encodeDocument(schema *Schema, values map[string]any) ([]byte, error) {
	buf := documentBuffers.Get()
	defer documentBuffers.Put(buf)

	buf.WriteByte('{')
	for _, def := range schema.fields {
		value, ok := values[def.Name]
		if !ok {
			continue
		}
		encoded, err := encodeField(def.Field, value)
		if err != nil {
			return nil, &EncodeError{Field: def.Name, Err: err}
		}
		raw, err := json.Marshal(encoded)
		if err != nil {
			return nil, &EncodeError{Field: def.Name, Err: err}
		}
		name, err := json.Marshal(def.Name)
		if err != nil {
			return nil, &EncodeError{Field: def.Name, Err: err}
		}

		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	buf.WriteByte('}')

	return bytes.Clone(buf.Bytes()), nil
}

// decodeDocument parses a payload written by encodeDocument. Numbers are
// kept as json.Number until their field decodes them. A payload field the
// schema does not declare is an error.
func decodeDocument(schema *Schema, key string, payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	if doc == nil {
		return nil, &DecodeError{Key: key, Err: errors.New("payload is not an object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &DecodeError{Key: key, Err: errors.New("trailing data after object")}
	}

	values := make(map[string]any, len(doc))
	for name, raw := range doc {
		field, ok := schema.index[name]
		if !ok {
			return nil, &DecodeError{Key: key, Field: name, Err: ErrUnknownField}
		}
		if raw == nil {
			continue
		}
		value, err := decodeField(field, raw)
		if err != nil {
			return nil, &DecodeError{Key: key, Field: name, Err: err}
		}
		values[name] = value
	}

	return values, nil
}

func encodeField(field Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch f := field.(type) {
	case ListField:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, typeError("list", value)
		}
		items := make([]any, rv.Len())
		for i := range items {
			item, err := encodeField(f.Elem(), rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = item
		}
		return items, nil

	case ReferenceField:
		switch ref := value.(type) {
		case Reference:
			return ref.Key, nil
		case *Reference:
			return ref.Key, nil
		case *Entry:
			if key := ref.Key(); key != "" {
				return key, nil
			}
			return nil, errors.New("referenced entry was never stored")
		case string:
			return ref, nil
		}
		return nil, typeError("reference", value)
	}

	return field.Encode(value)
}

func decodeField(field Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch f := field.(type) {
	case ListField:
		raw, ok := value.([]any)
		if !ok {
			return nil, typeError("list", value)
		}
		items := make([]any, len(raw))
		for i := range raw {
			item, err := decodeField(f.Elem(), raw[i])
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = item
		}
		return items, nil

	case ReferenceField:
		key, ok := value.(string)
		if !ok {
			return nil, typeError("reference key", value)
		}
		return Reference{Key: key, Schema: f.Target()}, nil
	}

	return field.Decode(value)
}
