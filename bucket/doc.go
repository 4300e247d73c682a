// Package bucket is a document cache over a memcached store.
//
// Documents are flat JSON objects described by a Schema. A Bucket loads them
// into typed entries, keeps one *Entry per key, and writes them back with
// the CAS token of their last load or store:
//
//	users := bucket.NewSchema("user",
//		bucket.Def("name", bucket.String()),
//		bucket.Def("age", bucket.Int()),
//	)
//
//	b := bucket.New(client, bucket.Config{})
//
//	entry, _ := bucket.NewEntry(users, map[string]any{"name": "Thomas", "age": 19})
//	err := b.Store(ctx, entry) // add under a new random key
//
//	entry.Set("age", 20)
//	err = b.Store(ctx, entry) // replace, conditional on entry.CAS()
//
//	var conflict *bucket.ConflictError
//	if errors.As(err, &conflict) {
//		// someone else wrote the document: Reload, reapply, Store
//	}
//
// Integer fields decode as int64 and float fields as float64. Reference
// fields decode as a Reference, loaded on demand with Bucket.Resolve.
package bucket
