// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package sets provides a minimal generic set.
package sets

// Set is a set of comparable values. The zero value is not usable, use New.
type Set[T comparable] map[T]struct{}

// New creates a Set holding items.
func New[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	s.Insert(items...)
	return s
}

// Insert adds items to the set.
func (s Set[T]) Insert(items ...T) {
	for _, item := range items {
		s[item] = struct{}{}
	}
}

// Delete removes items from the set.
func (s Set[T]) Delete(items ...T) {
	for _, item := range items {
		delete(s, item)
	}
}

// Has reports whether item is in the set.
func (s Set[T]) Has(item T) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of items in the set.
func (s Set[T]) Len() int {
	return len(s)
}

// UnsortedList returns the items of the set in no particular order.
func (s Set[T]) UnsortedList() []T {
	out := make([]T, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	return out
}
