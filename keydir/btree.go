package keydir

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/kivi/kivi/model"
)

var _ Keydir = (*BTree)(nil)

const defaultDegree = 32

// BTree implements Keydir on google/btree. The tree is not safe for
// concurrent writes, so every mutation takes the lock; reads take the
// read lock only for the lookup itself.
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

// Item implements the btree.Item interface
type Item struct {
	key []byte
	pos *model.RecordPos
}

func (i *Item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*Item).key) == -1
}

func NewBTree(degree int) *BTree {
	if degree <= 0 {
		degree = defaultDegree
	}
	return &BTree{
		tree: btree.New(degree),
		lock: &sync.RWMutex{},
	}
}

func (bt *BTree) Put(key []byte, pos *model.RecordPos) *model.RecordPos {
	item := &Item{
		key: key,
		pos: pos,
	}
	bt.lock.Lock()
	old := bt.tree.ReplaceOrInsert(item)
	bt.lock.Unlock()
	if old == nil {
		return nil
	}
	return old.(*Item).pos
}

func (bt *BTree) Get(key []byte) *model.RecordPos {
	item := &Item{
		key: key,
	}
	bt.lock.RLock()
	btItem := bt.tree.Get(item)
	bt.lock.RUnlock()
	if btItem == nil {
		return nil
	}
	return btItem.(*Item).pos
}

func (bt *BTree) Delete(key []byte) *model.RecordPos {
	item := &Item{
		key: key,
	}
	bt.lock.Lock()
	old := bt.tree.Delete(item)
	bt.lock.Unlock()
	if old == nil {
		return nil
	}
	return old.(*Item).pos
}

func (bt *BTree) Size() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

func (bt *BTree) Close() error {
	bt.lock.Lock()
	bt.tree.Clear(false)
	bt.lock.Unlock()
	return nil
}

func (bt *BTree) Iterator() Iterator {
	return bt.newBtreeIterator()
}

type btreeIterator struct {
	values []*Item
	curIdx int
}

func (bt *BTree) newBtreeIterator() *btreeIterator {
	bt.lock.RLock()
	defer bt.lock.RUnlock()

	iterator := &btreeIterator{
		values: make([]*Item, bt.tree.Len()),
		curIdx: 0,
	}

	var idx int
	getValues := func(item btree.Item) bool {
		iterator.values[idx] = item.(*Item)
		idx++
		return true
	}

	bt.tree.Ascend(getValues)

	return iterator
}

func (bti *btreeIterator) Rewind() {
	bti.curIdx = 0
}

func (bti *btreeIterator) Next() {
	bti.curIdx++
}

func (bti *btreeIterator) Valid() bool {
	return bti.curIdx < len(bti.values)
}

func (bti *btreeIterator) Key() []byte {
	return bti.values[bti.curIdx].key
}

func (bti *btreeIterator) Value() *model.RecordPos {
	return bti.values[bti.curIdx].pos
}

func (bti *btreeIterator) Close() {
	bti.values = nil
}
