package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// ============================================================
// LRU 向量缓存（双向链表实现 O(1) 操作）
// ============================================================

type cachedVector struct {
	vector []float64
	model  string
}

type vectorCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
}

type lruNode struct {
	key       string
	entry     cachedVector
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newVectorCache(capacity int, ttl time.Duration) *vectorCache {
	return &vectorCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
	}
}

func (c *vectorCache) Get(key string) (cachedVector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return cachedVector{}, false
	}

	if c.ttl > 0 && time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return cachedVector{}, false
	}

	c.moveToHead(node)
	return node.entry, true
}

func (c *vectorCache) Set(key string, entry cachedVector) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.entry = entry
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = node
	c.addToHead(node)
}

func (c *vectorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

func (c *vectorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *vectorCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *vectorCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *vectorCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *vectorCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}

// normalizeText 折叠空白, 用于缓存键与空输入判断.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// cacheKey = SHA-256(provider + 输入类型 + 规范化文本)
func cacheKey(provider string, inputType InputType, normalized string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + string(inputType) + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
