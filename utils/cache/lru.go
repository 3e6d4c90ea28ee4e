package cache

import "container/list"

// stage 记录 item 当前在哪个区域
type stage uint8

const (
	stageWindow stage = iota
	stageProbation
	stageProtected
)

type storeItem struct {
	stage    stage
	key      uint64
	conflict uint64
	value    interface{}
}

// windowLRU 新写入的 item 先进这个小窗口，一阵新 key 不会直接冲掉主缓存
type windowLRU struct {
	data map[uint64]*list.Element
	cap  int
	list *list.List
}

func newWindowLRU(size int, data map[uint64]*list.Element) *windowLRU {
	return &windowLRU{
		data: data,
		cap:  size,
		list: list.New(),
	}
}

// add puts item in front. A full window hands its oldest item back to the
// caller and reuses that list element for the new one.
func (w *windowLRU) add(item storeItem) (out storeItem, evicted bool) {
	if w.list.Len() < w.cap {
		w.data[item.key] = w.list.PushFront(&item)
		return storeItem{}, false
	}

	back := w.list.Back()
	old := back.Value.(*storeItem)
	delete(w.data, old.key)
	out = *old
	*old = item
	w.data[item.key] = back
	w.list.MoveToFront(back)
	return out, true
}

func (w *windowLRU) touch(e *list.Element) {
	w.list.MoveToFront(e)
}

func (w *windowLRU) remove(e *list.Element) {
	w.list.Remove(e)
}

func (w *windowLRU) clear() {
	w.list.Init()
}
