package bucket

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Field converts one document field between its Go value and the value
// stored in the JSON payload.
type Field interface {
	Encode(value any) (any, error)
	Decode(value any) (any, error)
}

// ListField marks a collection field: values are encoded and decoded element
// by element with Elem.
type ListField interface {
	Field
	Elem() Field
}

// ReferenceField marks a field holding the key of another document. It
// decodes to a Reference, never to the referenced entry.
type ReferenceField interface {
	Field
	Target() string
}

// DateTimeLayout is the stored form of DateTime fields.
const DateTimeLayout = "2006-01-02T15:04:05.000000-0700"

// dateTimeLayoutNaive is accepted on decode for values written without an
// offset. They are read as UTC.
const dateTimeLayoutNaive = "2006-01-02T15:04:05.000000"

func String() Field   { return stringField{} }
func Int() Field      { return intField{} }
func Float() Field    { return floatField{} }
func Bool() Field     { return boolField{} }
func Any() Field      { return anyField{} }
func DateTime() Field { return dateTimeField{} }

// List returns a field holding a list of elem values.
func List(elem Field) ListField { return listField{elem: elem} }

// Ref returns a field holding a reference to a document of the named schema.
func Ref(schema string) ReferenceField { return refField{target: schema} }

type stringField struct{}

func (stringField) Encode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError("string", v)
	}
	return s, nil
}

func (f stringField) Decode(v any) (any, error) {
	return f.Encode(v)
}

type intField struct{}

func (intField) Encode(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	}
	return nil, typeError("integer", v)
}

func (f intField) Decode(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	}
	return f.Encode(v)
}

type floatField struct{}

func (floatField) Encode(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	}
	return nil, typeError("number", v)
}

func (f floatField) Decode(v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		return n.Float64()
	}
	return f.Encode(v)
}

type boolField struct{}

func (boolField) Encode(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, typeError("bool", v)
	}
	return b, nil
}

func (f boolField) Decode(v any) (any, error) {
	return f.Encode(v)
}

// anyField stores values as encoding/json renders them. Numbers decode as
// json.Number.
type anyField struct{}

func (anyField) Encode(v any) (any, error) { return v, nil }
func (anyField) Decode(v any) (any, error) { return v, nil }

type dateTimeField struct{}

func (dateTimeField) Encode(v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, typeError("time.Time", v)
	}
	return t.Format(DateTimeLayout), nil
}

func (dateTimeField) Decode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, typeError("string", v)
	}
	t, err := time.Parse(DateTimeLayout, s)
	if err != nil {
		if naive, nerr := time.Parse(dateTimeLayoutNaive, s); nerr == nil {
			return naive, nil
		}
		return nil, err
	}
	return t, nil
}

type listField struct {
	elem Field
}

func (f listField) Elem() Field               { return f.elem }
func (f listField) Encode(v any) (any, error) { return encodeField(f, v) }
func (f listField) Decode(v any) (any, error) { return decodeField(f, v) }

type refField struct {
	target string
}

func (f refField) Target() string            { return f.target }
func (f refField) Encode(v any) (any, error) { return encodeField(f, v) }
func (f refField) Decode(v any) (any, error) { return decodeField(f, v) }

func typeError(want string, got any) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}
