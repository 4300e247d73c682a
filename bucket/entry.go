package bucket

import (
	"fmt"
	"maps"
	"sync"

	"github.com/pior/memdoc/binprot"
)

// Reference is the decoded value of a reference field: the key of another
// document and its schema name. It is resolved explicitly with
// Bucket.Resolve or Bucket.Load, never while decoding.
type Reference struct {
	Key    string
	Schema string
}

// Entry is a typed document. Its key and CAS are set by the Bucket.
//
// An entry is safe for concurrent use.
type Entry struct {
	schema *Schema

	// storeMu serializes Store calls on this entry. It is always taken
	// before a key stripe.
	storeMu sync.Mutex

	mu     sync.RWMutex
	key    string
	cas    binprot.CAS
	values map[string]any
}

// NewEntry creates an entry that has never been stored.
func NewEntry(schema *Schema, values map[string]any) (*Entry, error) {
	e := &Entry{
		schema: schema,
		values: make(map[string]any, len(values)),
	}
	for name, value := range values {
		if err := e.Set(name, value); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Key returns the document key, empty until the first successful Store.
// It is kept after Remove.
func (e *Entry) Key() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key
}

// CAS returns the token of the last load or store. It is zero for an entry
// that was never stored or was removed.
func (e *Entry) CAS() binprot.CAS {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cas
}

// Persisted reports whether the entry holds a CAS: the next Store replaces
// the document instead of creating one.
func (e *Entry) Persisted() bool {
	return !e.CAS().IsZero()
}

func (e *Entry) Schema() *Schema {
	return e.schema
}

// Get returns the value of a field.
func (e *Entry) Get(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[name]
	return v, ok
}

// Set changes a field. The change is local until Store.
func (e *Entry) Set(name string, value any) error {
	if _, ok := e.schema.index[name]; !ok {
		return fmt.Errorf("%w %q in schema %s", ErrUnknownField, name, e.schema.name)
	}
	if value == nil {
		return fmt.Errorf("%w for field %q", ErrNilValue, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[name] = value
	return nil
}

// Unset removes a field value.
func (e *Entry) Unset(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, name)
}

// Values returns a copy of the field values.
func (e *Entry) Values() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.values)
}

func (e *Entry) meta() (string, binprot.CAS) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key, e.cas
}

func (e *Entry) setMeta(key string, cas binprot.CAS) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.key = key
	e.cas = cas
}

func (e *Entry) replace(values map[string]any, cas binprot.CAS) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = values
	e.cas = cas
}

func (e *Entry) clearCAS() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cas = binprot.CAS{}
}
