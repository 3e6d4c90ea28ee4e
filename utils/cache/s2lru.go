package cache

import "container/list"

// segmentedLRU 新进入的 item 先放在 probation（试用区），再次命中后晋升到 protected（保护区）
type segmentedLRU struct {
	data                     map[uint64]*list.Element
	probationCap, protectCap int
	probation, protected     *list.List
}

func newSLRU(data map[uint64]*list.Element, probationCap, protectCap int) *segmentedLRU {
	return &segmentedLRU{
		data:         data,
		probationCap: probationCap,
		protectCap:   protectCap,
		probation:    list.New(),
		protected:    list.New(),
	}
}

func (slru *segmentedLRU) add(item storeItem) {
	item.stage = stageProbation

	if slru.probation.Len() < slru.probationCap || slru.Len() < slru.probationCap+slru.protectCap {
		slru.data[item.key] = slru.probation.PushFront(&item)
		return
	}

	// 满了就淘汰试用区的队尾
	e := slru.probation.Back()
	old := e.Value.(*storeItem)
	delete(slru.data, old.key)

	*old = item
	slru.data[item.key] = e
	slru.probation.MoveToFront(e)
}

func (slru *segmentedLRU) touch(e *list.Element) {
	item := e.Value.(*storeItem)

	if item.stage == stageProtected {
		slru.protected.MoveToFront(e)
		return
	}

	if slru.protectCap == 0 {
		slru.probation.MoveToFront(e)
		return
	}

	if slru.protected.Len() < slru.protectCap {
		slru.probation.Remove(e)
		item.stage = stageProtected
		slru.data[item.key] = slru.protected.PushFront(item)
		return
	}

	// 保护区满了，和它的队尾交换位置
	back := slru.protected.Back()
	bitem := back.Value.(*storeItem)

	*bitem, *item = *item, *bitem

	bitem.stage = stageProtected
	item.stage = stageProbation

	slru.data[item.key] = e
	slru.data[bitem.key] = back

	slru.probation.MoveToFront(e)
	slru.protected.MoveToFront(back)
}

func (slru *segmentedLRU) remove(e *list.Element) {
	if e.Value.(*storeItem).stage == stageProtected {
		slru.protected.Remove(e)
		return
	}
	slru.probation.Remove(e)
}

func (slru *segmentedLRU) clear() {
	slru.probation.Init()
	slru.protected.Init()
}

func (slru *segmentedLRU) Len() int {
	return slru.protected.Len() + slru.probation.Len()
}

// victim is the item a newcomer has to beat, nil while there is room.
func (slru *segmentedLRU) victim() *storeItem {
	if slru.Len() < slru.probationCap+slru.protectCap {
		return nil
	}

	v := slru.probation.Back()
	if v == nil {
		return nil
	}
	return v.Value.(*storeItem)
}
