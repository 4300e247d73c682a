package bucket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDocument(t *testing.T) {
	payload, err := encodeDocument(users, map[string]any{"name": "Thomas", "age": uint8(19)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Thomas","age":19}`, string(payload))

	payload, err = encodeDocument(users, map[string]any{"name": "Thomas"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Thomas"}`, string(payload), "unset fields are omitted")
}

func TestEncodeDocumentFieldOrder(t *testing.T) {
	schema := NewSchema("order",
		Def("zeta", String()),
		Def("alpha", Int()),
		Def("tags", List(String())),
		Def("mid", Bool()),
	)

	payload, err := encodeDocument(schema, map[string]any{
		"mid":   true,
		"tags":  []string{"a", "b"},
		"alpha": 1,
		"zeta":  "z",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":1,"tags":["a","b"],"mid":true}`, string(payload))

	payload, err = encodeDocument(schema, map[string]any{"mid": false, "alpha": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":false}`, string(payload))

	payload, err = encodeDocument(schema, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(payload))
}

func TestDecodeDocument(t *testing.T) {
	values, err := decodeDocument(users, "k", []byte(`{"name":"Thomas","age":19}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Thomas", "age": int64(19)}, values)

	values, err = decodeDocument(users, "k", []byte(`{"name":null,"age":19}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": int64(19)}, values, "null fields are skipped")
}

func TestDecodeDocumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `nope`, ""},
		{"array", `[1,2]`, ""},
		{"null", `null`, ""},
		{"trailing data", `{"name":"x"} {}`, ""},
		{"unknown field", `{"nickname":"x"}`, "nickname"},
		{"wrong type", `{"name":12}`, "name"},
		{"fractional int", `{"age":1.5}`, "age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDocument(users, "doc", []byte(tt.payload))

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "doc", decodeErr.Key)
			assert.Equal(t, tt.field, decodeErr.Field)
		})
	}
}

func TestIntField(t *testing.T) {
	for _, v := range []any{19, int8(19), int32(19), int64(19), uint(19), uint64(19)} {
		got, err := Int().Encode(v)
		require.NoError(t, err)
		assert.Equal(t, int64(19), got)
	}

	_, err := Int().Encode(uint64(1 << 63))
	require.ErrorContains(t, err, "overflows")

	_, err = Int().Encode(1.5)
	require.Error(t, err)

	got, err := Int().Decode(json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = Int().Decode(float64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	_, err = Int().Decode(json.Number("4.2"))
	require.Error(t, err)
}

func TestFloatField(t *testing.T) {
	got, err := Float().Encode(float32(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)

	got, err = Float().Encode(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	got, err = Float().Decode(json.Number("2.25"))
	require.NoError(t, err)
	assert.Equal(t, 2.25, got)

	_, err = Float().Encode("1.5")
	require.Error(t, err)
}

func TestBoolAndStringFields(t *testing.T) {
	got, err := Bool().Decode(true)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = Bool().Encode("true")
	require.Error(t, err)

	_, err = String().Decode(json.Number("1"))
	require.Error(t, err)
}

func TestAnyField(t *testing.T) {
	schema := NewSchema("blob", Def("data", Any()))

	payload, err := encodeDocument(schema, map[string]any{"data": map[string]any{"n": 1}})
	require.NoError(t, err)

	values, err := decodeDocument(schema, "k", payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": json.Number("1")}, values["data"])
}

func TestDateTimeField(t *testing.T) {
	when := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.FixedZone("EDT", -4*3600))

	encoded, err := DateTime().Encode(when)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06T07:08:09.123456-0400", encoded)

	decoded, err := DateTime().Decode(encoded)
	require.NoError(t, err)
	assert.True(t, when.Equal(decoded.(time.Time)))

	decoded, err = DateTime().Decode("2024-05-06T07:08:09.123456")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC).Equal(decoded.(time.Time)))

	_, err = DateTime().Decode("yesterday")
	require.Error(t, err)

	_, err = DateTime().Encode("2024-05-06")
	require.Error(t, err)
}

func TestListField(t *testing.T) {
	field := List(Int())

	encoded, err := encodeField(field, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, encoded)

	decoded, err := decodeField(field, []any{json.Number("1"), json.Number("2")})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, decoded)

	_, err = encodeField(field, []any{1, "two"})
	require.ErrorContains(t, err, "item 1")

	_, err = encodeField(field, 7)
	require.Error(t, err)

	_, err = decodeField(field, "1,2")
	require.Error(t, err)

	nested, err := List(List(String())).Encode([][]string{{"a"}, {"b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"a"}, []any{"b", "c"}}, nested)
}

func TestReferenceField(t *testing.T) {
	field := Ref("user")

	for _, v := range []any{"k1", Reference{Key: "k1"}, &Reference{Key: "k1"}, &Entry{schema: users, key: "k1"}} {
		encoded, err := encodeField(field, v)
		require.NoError(t, err)
		assert.Equal(t, "k1", encoded)
	}

	_, err := encodeField(field, &Entry{schema: users})
	require.ErrorContains(t, err, "never stored")

	_, err = encodeField(field, 12)
	require.Error(t, err)

	decoded, err := decodeField(field, "k1")
	require.NoError(t, err)
	assert.Equal(t, Reference{Key: "k1", Schema: "user"}, decoded)

	refs, err := decodeField(List(field), []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{Reference{Key: "a", Schema: "user"}, Reference{Key: "b", Schema: "user"}}, refs)
}
