package typeutil

import (
	"cmp"
)

// Bag 是带计数的集合：同一元素可以插入多次，需要同样次数的 Remove 才会真正移除。
// 零值不可用，请使用 NewBag 创建。
type Bag[T cmp.Ordered] map[T]int

func NewBag[T cmp.Ordered](elements ...T) Bag[T] {
	bag := make(Bag[T])
	bag.Insert(elements...)
	return bag
}

func (bag Bag[T]) Insert(elements ...T) {
	for i := range elements {
		bag[elements[i]]++
	}
}

// Remove 将元素计数减一，计数归零时删除该元素。
// 元素不存在时返回 false。
func (bag Bag[T]) Remove(element T) bool {
	n, ok := bag[element]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(bag, element)
	} else {
		bag[element] = n - 1
	}
	return true
}

func (bag Bag[T]) Contain(element T) bool {
	_, ok := bag[element]
	return ok
}

// Count 返回元素当前的计数。
func (bag Bag[T]) Count(element T) int {
	return bag[element]
}

// Len 返回不同元素的个数。
func (bag Bag[T]) Len() int {
	return len(bag)
}

// Min 返回最小的元素；Bag 为空时 ok 为 false。不分配内存。
func (bag Bag[T]) Min() (T, bool) {
	var m T
	first := true
	for e := range bag {
		if first || e < m {
			m, first = e, false
		}
	}
	return m, !first
}

func (bag Bag[T]) Clear() {
	clear(bag)
}
