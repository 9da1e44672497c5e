package iterator

// Iterator is a forward-only cursor over a sorted sequence of records.
//
// A fresh iterator sits before the first record. Callers advance with
//
//	for it.Valid() {
//		if err := it.Next(); err != nil { ... }
//		key, _ := it.Key()
//	}
//
// Accessors called before the first Next fail with dberrors.ErrNoNext.
type Iterator interface {
	// Seek positions the cursor on key, or fails with dberrors.ErrNotFound.
	Seek(key string) error
	// SeekToFirst moves the cursor back before the first record.
	SeekToFirst()
	// Valid reports whether Next would land on a record. It never moves the cursor.
	Valid() bool
	// Next advances to the following record, or fails with dberrors.ErrNoNext.
	Next() error
	// Key returns the current key.
	Key() (string, error)
	// Value returns the current value, or dberrors.ErrNotFound for a tombstone.
	Value() ([]byte, error)
	// Tombstone reports whether the current record marks a deletion.
	Tombstone() (bool, error)
	// Err returns the error, if any, that made Valid report false.
	Err() error
	// Close releases resources.
	Close() error
}
