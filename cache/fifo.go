package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// FIFO 固定容量缓存，满时淘汰最早插入的条目。
// 读取使用 Peek，不会刷新条目的位置，所以 LRU 的淘汰顺序退化为插入顺序。
type FIFO[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

// NewFIFO 创建容量为 size 的缓存，size<=0 时按 1 处理
func NewFIFO[K comparable, V any](size int) *FIFO[K, V] {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[K, V](size)
	if err != nil {
		// 只有 size<=0 时才会失败
		panic(err)
	}
	return &FIFO[K, V]{lru: c}
}

// Get 读取条目，不影响淘汰顺序
func (f *FIFO[K, V]) Get(key K) (V, bool) {
	return f.lru.Peek(key)
}

// Add 写入条目，返回是否发生了淘汰
func (f *FIFO[K, V]) Add(key K, value V) bool {
	return f.lru.Add(key, value)
}

// Contains 是否存在，不影响淘汰顺序
func (f *FIFO[K, V]) Contains(key K) bool {
	return f.lru.Contains(key)
}

func (f *FIFO[K, V]) Remove(key K) {
	f.lru.Remove(key)
}

func (f *FIFO[K, V]) Len() int {
	return f.lru.Len()
}

// Keys 从最早到最新
func (f *FIFO[K, V]) Keys() []K {
	return f.lru.Keys()
}

func (f *FIFO[K, V]) Purge() {
	f.lru.Purge()
}
