package scenes

import (
	"fmt"
	"sort"
)

// Collection is an ordered, immutable sequence of items with functional
// helpers. Operations return new collections; the zero value is empty.
type Collection[T any] struct {
	items []T
}

// NewCollection copies items into a fresh collection.
func NewCollection[T any](items ...T) *Collection[T] {
	return &Collection[T]{items: append([]T(nil), items...)}
}

// Len returns the number of items.
func (c *Collection[T]) Len() int { return len(c.items) }

// Get returns the item at position i.
func (c *Collection[T]) Get(i int) T { return c.items[i] }

// Items returns a copy of the underlying slice.
func (c *Collection[T]) Items() []T { return append([]T(nil), c.items...) }

// Each calls f on every item in order.
func (c *Collection[T]) Each(f func(T)) {
	for _, item := range c.items {
		f(item)
	}
}

// Append returns a new collection with items added at the end.
func (c *Collection[T]) Append(items ...T) *Collection[T] {
	out := make([]T, 0, len(c.items)+len(items))
	out = append(out, c.items...)
	out = append(out, items...)
	return &Collection[T]{items: out}
}

// Filter returns a new collection with the items keep accepts, in order.
func (c *Collection[T]) Filter(keep func(T) bool) *Collection[T] {
	out := &Collection[T]{}
	for _, item := range c.items {
		if keep(item) {
			out.items = append(out.items, item)
		}
	}
	return out
}

// Sorted returns a new collection sorted by less. The sort is stable, so
// equal items keep their collection order.
func (c *Collection[T]) Sorted(less func(a, b T) bool) *Collection[T] {
	out := &Collection[T]{items: c.Items()}
	sort.SliceStable(out.items, func(i, j int) bool { return less(out.items[i], out.items[j]) })
	return out
}

// Map returns the collection of f applied to every item of c, in order.
func Map[T, U any](c *Collection[T], f func(T) U) *Collection[U] {
	out := &Collection[U]{items: make([]U, len(c.items))}
	for i, item := range c.items {
		out.items[i] = f(item)
	}
	return out
}

// Group is one bucket of a GroupBy: its key and its members in collection
// order.
type Group[T any] struct {
	Key   string
	Items *Collection[T]
}

// GroupBy buckets the items by key. Groups come out sorted by key; within a
// group, collection order is preserved.
func (c *Collection[T]) GroupBy(key func(T) (string, error)) ([]Group[T], error) {
	buckets := map[string]*Collection[T]{}
	keys := []string{}
	for _, item := range c.items {
		k, err := key(item)
		if err != nil {
			return nil, fmt.Errorf("GroupBy: %w", err)
		}
		bucket, ok := buckets[k]
		if !ok {
			bucket = &Collection[T]{}
			buckets[k] = bucket
			keys = append(keys, k)
		}
		bucket.items = append(bucket.items, item)
	}
	sort.Strings(keys)
	groups := make([]Group[T], len(keys))
	for i, k := range keys {
		groups[i] = Group[T]{Key: k, Items: buckets[k]}
	}
	return groups, nil
}
