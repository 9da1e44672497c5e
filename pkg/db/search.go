package db

import (
	"strings"
)

// SearchOptions bound a range search. Empty bounds are open.
type SearchOptions struct {
	// Start is inclusive.
	Start string
	// End is exclusive.
	End    string
	Prefix string
	// Limit caps the number of results; 0 means no limit.
	Limit int
}

type SearchResult struct {
	Key   string
	Value []byte
}

type SearchCallback func(SearchResult) error

// SearchRange walks st in ascending key order and calls callback for every
// live key within the bounds. A callback error stops the walk and is
// returned.
func SearchRange(st Store, opts SearchOptions, callback SearchCallback) error {
	iter, err := st.Iterator()
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.Valid() && (opts.Limit == 0 || count < opts.Limit) {
		if err := iter.Next(); err != nil {
			return err
		}
		key, err := iter.Key()
		if err != nil {
			return err
		}

		if key < opts.Start || (opts.Prefix != "" && key < opts.Prefix) {
			continue
		}
		if opts.End != "" && key >= opts.End {
			break
		}
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			break
		}

		tomb, err := iter.Tombstone()
		if err != nil {
			return err
		}
		if tomb {
			continue
		}
		value, err := iter.Value()
		if err != nil {
			return err
		}

		if err := callback(SearchResult{Key: key, Value: value}); err != nil {
			return err
		}
		count++
	}

	return iter.Err()
}
