package bucket

import "fmt"

// FieldDef is a named field of a schema.
type FieldDef struct {
	Name  string
	Field Field
}

// Def declares a schema field.
func Def(name string, field Field) FieldDef {
	return FieldDef{Name: name, Field: field}
}

// Schema is the ordered list of fields of a document type.
type Schema struct {
	name   string
	fields []FieldDef
	index  map[string]Field

	// Validate, if set, is called by Store with the entry values before
	// anything is sent. A non-nil error aborts the store.
	Validate func(values map[string]any) error
}

// NewSchema builds a schema. It panics on an empty or duplicate field name
// or a nil field.
func NewSchema(name string, fields ...FieldDef) *Schema {
	s := &Schema{
		name:   name,
		fields: make([]FieldDef, 0, len(fields)),
		index:  make(map[string]Field, len(fields)),
	}

	for _, def := range fields {
		switch {
		case def.Name == "":
			panic(fmt.Sprintf("bucket: schema %s: empty field name", name))
		case def.Field == nil:
			panic(fmt.Sprintf("bucket: schema %s: field %q has no descriptor", name, def.Name))
		}
		if _, dup := s.index[def.Name]; dup {
			panic(fmt.Sprintf("bucket: schema %s: duplicate field %q", name, def.Name))
		}
		s.fields = append(s.fields, def)
		s.index[def.Name] = def.Field
	}

	return s
}

func (s *Schema) Name() string {
	return s.name
}

// Fields returns the field definitions in declaration order.
func (s *Schema) Fields() []FieldDef {
	return append([]FieldDef(nil), s.fields...)
}

// Field returns the descriptor of the named field.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

func (s *Schema) validate(values map[string]any) error {
	if s.Validate == nil {
		return nil
	}
	if err := s.Validate(values); err != nil {
		return fmt.Errorf("bucket: invalid %s: %w", s.name, err)
	}
	return nil
}
