package partition

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/absolute8511/aerospike-server/record"
)

// Tree is the index-tree collaborator: a partition-scoped ordered map from
// record digest to record entry. Production deployments substitute their
// own engine-backed implementation; btreeTree is a reference implementation
// so the migration and replicated-write flows have something real to run
// against end to end.
type Tree interface {
	Get(d record.Digest) (*record.Entry, bool)
	Put(d record.Digest, e *record.Entry)
	Delete(d record.Digest)
	Range(fn func(d record.Digest, e *record.Entry) bool)
	Len() int
}

// btreeTree wraps *btree.BTree the same way etcd's treeIndex does: one
// RWMutex, one tree, keyed here by digest rather than a revision key.
type btreeTree struct {
	sync.RWMutex
	tree *btree.BTree
}

// NewTree returns the reference Tree implementation.
func NewTree() Tree {
	return &btreeTree{tree: btree.New(32)}
}

type treeItem struct {
	digest record.Digest
	entry  *record.Entry
}

func (a *treeItem) Less(than btree.Item) bool {
	b := than.(*treeItem)
	return bytes.Compare(a.digest[:], b.digest[:]) < 0
}

func (t *btreeTree) Get(d record.Digest) (*record.Entry, bool) {
	t.RLock()
	defer t.RUnlock()

	item := t.tree.Get(&treeItem{digest: d})
	if item == nil {
		return nil, false
	}
	return item.(*treeItem).entry, true
}

func (t *btreeTree) Put(d record.Digest, e *record.Entry) {
	t.Lock()
	defer t.Unlock()

	t.tree.ReplaceOrInsert(&treeItem{digest: d, entry: e})
}

func (t *btreeTree) Delete(d record.Digest) {
	t.Lock()
	defer t.Unlock()

	t.tree.Delete(&treeItem{digest: d})
}

func (t *btreeTree) Range(fn func(d record.Digest, e *record.Entry) bool) {
	t.RLock()
	defer t.RUnlock()

	t.tree.Ascend(func(item btree.Item) bool {
		ti := item.(*treeItem)
		return fn(ti.digest, ti.entry)
	})
}

func (t *btreeTree) Len() int {
	t.RLock()
	defer t.RUnlock()
	return t.tree.Len()
}
