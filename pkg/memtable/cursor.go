package memtable

import (
	"slices"

	"lsmkv/pkg/dberrors"
)

// Cursor walks an Index in ascending key order. It starts before the
// first node.
type Cursor struct {
	index *Index
	cur   *Node
	start bool
}

func NewCursor(index *Index) *Cursor {
	return &Cursor{index: index, start: true}
}

func (c *Cursor) Seek(key string) error {
	n, ok := c.index.GetNode(key)
	if !ok {
		c.SeekToFirst()
		return dberrors.ErrNotFound
	}
	c.cur = n
	c.start = false
	return nil
}

func (c *Cursor) SeekToFirst() {
	c.cur = nil
	c.start = true
}

func (c *Cursor) Valid() bool {
	if c.start {
		return c.index.FindMin() != nil
	}
	return c.index.FindNext(c.cur) != nil
}

func (c *Cursor) Next() error {
	var next *Node
	if c.start {
		next = c.index.FindMin()
	} else {
		next = c.index.FindNext(c.cur)
	}
	if next == nil {
		return dberrors.ErrNoNext
	}
	c.cur = next
	c.start = false
	return nil
}

func (c *Cursor) node() (*Node, error) {
	if c.start || c.cur == nil {
		return nil, dberrors.ErrNoNext
	}
	return c.cur, nil
}

func (c *Cursor) Key() (string, error) {
	n, err := c.node()
	if err != nil {
		return "", err
	}
	return n.Key, nil
}

func (c *Cursor) Value() ([]byte, error) {
	n, err := c.node()
	if err != nil {
		return nil, err
	}
	if n.Tombstone {
		return nil, dberrors.ErrNotFound
	}
	return slices.Clone(n.Value), nil
}

func (c *Cursor) Tombstone() (bool, error) {
	n, err := c.node()
	if err != nil {
		return false, err
	}
	return n.Tombstone, nil
}

func (c *Cursor) Err() error {
	return nil
}

func (c *Cursor) Close() error {
	return nil
}
