package memtable

import (
	"github.com/google/btree"

	"lsmkv/pkg/dberrors"
)

const btreeDegree = 32

// Node is one key of the index. A removed key keeps its node with
// Tombstone set and a nil Value.
type Node struct {
	Key       string
	Value     []byte
	Tombstone bool
}

func lessNode(a, b *Node) bool {
	return a.Key < b.Key
}

// Index is the ordered container behind the memtable: string keys in
// byte order, one node per key, updated in place.
type Index struct {
	tree *btree.BTreeG[*Node]
}

func NewIndex() *Index {
	return &Index{
		tree: btree.NewG[*Node](btreeDegree, lessNode),
	}
}

// Clone returns a lazily copied index. Both copies may be used
// concurrently afterwards, provided neither mutates a shared *Node in
// place (Update, RemoveMark).
func (ix *Index) Clone() *Index {
	return &Index{tree: ix.tree.Clone()}
}

func (ix *Index) Size() int {
	return ix.tree.Len()
}

// Insert adds a live key. An existing node is overwritten.
func (ix *Index) Insert(key string, value []byte) {
	ix.tree.ReplaceOrInsert(&Node{Key: key, Value: value})
}

// Update sets the value of an existing key and clears its tombstone.
// Unknown keys are ignored.
func (ix *Index) Update(key string, value []byte) {
	n, ok := ix.GetNode(key)
	if !ok {
		return
	}
	n.Value = value
	n.Tombstone = false
}

// RemoveMark tombstones key, inserting an empty node for unknown keys.
func (ix *Index) RemoveMark(key string) {
	if n, ok := ix.GetNode(key); ok {
		n.Value = nil
		n.Tombstone = true
		return
	}
	ix.tree.ReplaceOrInsert(&Node{Key: key, Tombstone: true})
}

// RemoveNode physically deletes key.
func (ix *Index) RemoveNode(key string) error {
	if _, ok := ix.tree.Delete(&Node{Key: key}); !ok {
		return dberrors.ErrNotFound
	}
	return nil
}

func (ix *Index) Contains(key string) bool {
	return ix.tree.Has(&Node{Key: key})
}

// ContainsLive reports whether key is present and not tombstoned.
func (ix *Index) ContainsLive(key string) bool {
	n, ok := ix.GetNode(key)
	return ok && !n.Tombstone
}

func (ix *Index) Get(key string) ([]byte, bool) {
	n, ok := ix.GetNode(key)
	if !ok {
		return nil, false
	}
	return n.Value, true
}

func (ix *Index) GetNode(key string) (*Node, bool) {
	return ix.tree.Get(&Node{Key: key})
}

// FindMin returns the smallest node, or nil for an empty index.
func (ix *Index) FindMin() *Node {
	n, _ := ix.tree.Min()
	return n
}

// FindNext returns the in-order successor of n, or nil if n is the last
// node. The lookup descends from the root, so n need not still be in the
// index.
func (ix *Index) FindNext(n *Node) *Node {
	if n == nil {
		return nil
	}
	var next *Node
	ix.tree.AscendGreaterOrEqual(n, func(item *Node) bool {
		if item.Key == n.Key {
			return true
		}
		next = item
		return false
	})
	return next
}
