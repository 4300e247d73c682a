package bucket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pior/memdoc"
	"github.com/pior/memdoc/binprot"
	"github.com/pior/memdoc/internal"
)

// DefaultStripes is the number of key locks when Config.Stripes is zero.
const DefaultStripes = 64

// Store is the remote side of a Bucket. memdoc.Client and memdoc.Connection
// implement it.
type Store interface {
	Get(ctx context.Context, key string) (memdoc.Item, error)
	Add(ctx context.Context, item memdoc.Item) (binprot.CAS, error)
	Replace(ctx context.Context, item memdoc.Item) (binprot.CAS, error)
	Delete(ctx context.Context, key string, cas binprot.CAS) error
}

var (
	_ Store = (*memdoc.Client)(nil)
	_ Store = (*memdoc.Connection)(nil)
)

// Config holds the Bucket settings. The zero value is usable.
type Config struct {
	// Expiration is stored with every document. Zero means no expiration.
	Expiration uint32

	// Stripes is the number of key locks. Defaults to DefaultStripes.
	Stripes int

	// Schemas are made available to Resolve. Schemas used with Load or
	// Store are registered automatically.
	Schemas []*Schema

	// NewKey generates the key of a new document. Defaults to 128 random
	// bits in lowercase hex.
	NewKey func() (string, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bucket is an identity map of typed documents over a Store: loading a key
// twice returns the same *Entry, and every entry remembers the CAS of its
// last load or store so that updates are conditional.
//
// Entries stay cached until Remove or Forget. There is no expiration and no
// size limit: a process loading an unbounded set of keys must Forget them or
// use short-lived buckets.
//
// Operations on the same key are serialized.
type Bucket struct {
	store      Store
	logger     *slog.Logger
	expiration uint32
	newKey     func() (string, error)

	mu      sync.RWMutex
	entries map[string]*Entry
	schemas map[string]*Schema

	stripes []sync.Mutex
}

// New creates a Bucket over store.
func New(store Store, config Config) *Bucket {
	if config.Stripes <= 0 {
		config.Stripes = DefaultStripes
	}
	if config.NewKey == nil {
		config.NewKey = RandomKey
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	b := &Bucket{
		store:      store,
		logger:     config.Logger,
		expiration: config.Expiration,
		newKey:     config.NewKey,
		entries:    make(map[string]*Entry),
		schemas:    make(map[string]*Schema),
		stripes:    make([]sync.Mutex, config.Stripes),
	}
	for _, s := range config.Schemas {
		b.schemas[s.name] = s
	}
	return b
}

// RandomKey returns 128 random bits in lowercase hex.
func RandomKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("bucket: generating key: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Load returns the entry for key. A cached entry is returned as is, without
// any request; use LoadFresh to revalidate it.
func (b *Bucket) Load(ctx context.Context, schema *Schema, key string) (*Entry, error) {
	unlock := b.lockKey(key)
	defer unlock()

	if e, ok := b.Cached(key); ok {
		if e.schema != schema {
			return nil, fmt.Errorf("bucket: %q is cached as %s, not %s", key, e.schema.name, schema.name)
		}
		return e, nil
	}

	return b.fetch(ctx, schema, key)
}

// LoadFresh is Load, except that a cached entry is reloaded in place.
func (b *Bucket) LoadFresh(ctx context.Context, schema *Schema, key string) (*Entry, error) {
	unlock := b.lockKey(key)
	defer unlock()

	if e, ok := b.Cached(key); ok {
		if e.schema != schema {
			return nil, fmt.Errorf("bucket: %q is cached as %s, not %s", key, e.schema.name, schema.name)
		}
		if err := b.reload(ctx, e, key); err != nil {
			return nil, err
		}
		return e, nil
	}

	return b.fetch(ctx, schema, key)
}

// Resolve loads the document a Reference points to.
func (b *Bucket) Resolve(ctx context.Context, ref Reference) (*Entry, error) {
	b.mu.RLock()
	schema, ok := b.schemas[ref.Schema]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSchema, ref.Schema)
	}
	return b.Load(ctx, schema, ref.Key)
}

// Reload refreshes entry from the server: values and CAS are replaced in
// place. Local changes are lost.
func (b *Bucket) Reload(ctx context.Context, entry *Entry) error {
	key := entry.Key()
	if key == "" {
		return ErrNotPersisted
	}

	unlock := b.lockKey(key)
	defer unlock()

	return b.reload(ctx, entry, key)
}

// Store writes entry. An entry without CAS is created under a new key with
// add; otherwise it is replaced, only if the document still has the entry's
// CAS. A changed document fails with a *ConflictError and the entry is left
// untouched.
//
// The values are copied once: the validation hook sees exactly what is sent.
// The entry's CAS is updated as soon as the server accepts the write.
func (b *Bucket) Store(ctx context.Context, entry *Entry) error {
	entry.storeMu.Lock()
	defer entry.storeMu.Unlock()

	key, _ := entry.meta()
	if key != "" {
		unlock := b.lockKey(key)
		defer unlock()
	}

	// Read under the key lock: a concurrent Remove may have cleared it.
	key, cas := entry.meta()

	// Validate and encode the same snapshot.
	values := entry.Values()
	if err := entry.schema.validate(values); err != nil {
		return err
	}
	payload, err := encodeDocument(entry.schema, values)
	if err != nil {
		return err
	}

	if cas.IsZero() {
		return b.create(ctx, entry, payload)
	}
	return b.replace(ctx, entry, key, cas, payload)
}

// Remove deletes the document and evicts the entry. The entry keeps its key
// but loses its CAS: storing it again creates a new document.
func (b *Bucket) Remove(ctx context.Context, entry *Entry) error {
	key := entry.Key()
	if key == "" {
		return ErrNotPersisted
	}

	unlock := b.lockKey(key)
	defer unlock()

	if !entry.Persisted() {
		return ErrNotPersisted
	}

	if err := b.store.Delete(ctx, key, binprot.CAS{}); err != nil {
		return fmt.Errorf("bucket: removing %q: %w", key, err)
	}

	b.evict(key, entry)
	entry.clearCAS()
	b.logger.Debug("bucket: removed", "key", key, "schema", entry.schema.name)
	return nil
}

// Cached returns the cached entry for key, without any request.
func (b *Bucket) Cached(key string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	return e, ok
}

// Forget evicts key from the cache. The document is not touched.
func (b *Bucket) Forget(key string) {
	unlock := b.lockKey(key)
	defer unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the number of cached entries.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// fetch must be called with the key locked.
func (b *Bucket) fetch(ctx context.Context, schema *Schema, key string) (*Entry, error) {
	item, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("bucket: loading %q: %w", key, err)
	}

	values, err := decodeDocument(schema, key, item.Value)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		schema: schema,
		key:    key,
		cas:    item.CAS,
		values: values,
	}
	b.insert(key, e)
	return e, nil
}

// reload must be called with the key locked.
func (b *Bucket) reload(ctx context.Context, entry *Entry, key string) error {
	item, err := b.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("bucket: reloading %q: %w", key, err)
	}

	values, err := decodeDocument(entry.schema, key, item.Value)
	if err != nil {
		return err
	}

	entry.replace(values, item.CAS)
	return nil
}

func (b *Bucket) create(ctx context.Context, entry *Entry, payload []byte) error {
	key, err := b.newKey()
	if err != nil {
		return err
	}

	cas, err := b.store.Add(ctx, memdoc.Item{Key: key, Value: payload, Expiration: b.expiration})
	if err != nil {
		return fmt.Errorf("bucket: creating %s: %w", entry.schema.name, err)
	}

	entry.setMeta(key, cas)
	b.insert(key, entry)
	return nil
}

// replace must be called with the key locked.
func (b *Bucket) replace(ctx context.Context, entry *Entry, key string, cas binprot.CAS, payload []byte) error {
	newCAS, err := b.store.Replace(ctx, memdoc.Item{Key: key, Value: payload, Expiration: b.expiration, CAS: cas})
	if errors.Is(err, binprot.StatusKeyExists) {
		b.logger.Debug("bucket: conflict", "key", key, "cas", cas)
		return &ConflictError{Key: key, CAS: cas, Err: err}
	}
	if err != nil {
		return fmt.Errorf("bucket: storing %q: %w", key, err)
	}

	entry.setMeta(key, newCAS)
	return nil
}

func (b *Bucket) insert(key string, entry *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = entry
	b.schemas[entry.schema.name] = entry.schema
	b.logger.Debug("bucket: cached", "key", key, "schema", entry.schema.name)
}

// evict removes key only if it still maps to entry.
func (b *Bucket) evict(key string, entry *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries[key] == entry {
		delete(b.entries, key)
	}
}

func (b *Bucket) lockKey(key string) func() {
	m := &b.stripes[internal.KeyStripe(key, len(b.stripes))]
	m.Lock()
	return m.Unlock
}
