// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coro

import "sync"

// A Handle names an object registered with a runtime. Handles pack a slot
// index in the low 32 bits and a per-slot generation in the high 32 bits,
// so a handle kept across Close can never resolve to a recycled slot.
// Handle 低 32 位是槽索引，高 32 位是该槽的代数；槽被复用后旧句柄失效。
//
// The zero Handle is never valid: generations start at 1.
type Handle int64

type hslot struct {
	obj interface{} // nil while the slot is on the free list
	gen uint32
}

// htab is the handle registry. Slots are recycled through a free list and
// every unregister bumps the slot's generation.
type htab struct {
	mu    sync.Mutex
	slots []hslot
	free  []int32
}

func (t *htab) register(obj interface{}) Handle {
	t.mu.Lock()
	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, hslot{gen: 1})
		idx = int32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.obj = obj
	h := Handle(uint64(s.gen)<<32 | uint64(uint32(idx)))
	t.mu.Unlock()
	return h
}

// resolve returns the object registered under h, or nil if h is unknown
// or stale. Type checking is the caller's business: the registry is
// polymorphic and dispatch happens by type assertion.
func (t *htab) resolve(h Handle) interface{} {
	idx := uint32(h)
	gen := uint32(uint64(h) >> 32)
	var obj interface{}
	t.mu.Lock()
	if int(idx) < len(t.slots) {
		if s := &t.slots[idx]; s.gen == gen {
			obj = s.obj
		}
	}
	t.mu.Unlock()
	return obj
}

// unregister consumes h: it returns the registered object, frees the slot
// and bumps its generation. Returns nil if h is unknown or stale.
func (t *htab) unregister(h Handle) interface{} {
	idx := uint32(h)
	gen := uint32(uint64(h) >> 32)
	var obj interface{}
	t.mu.Lock()
	if int(idx) < len(t.slots) {
		if s := &t.slots[idx]; s.gen == gen {
			obj = s.obj
			s.obj = nil
			s.gen++
			t.free = append(t.free, int32(idx))
		}
	}
	t.mu.Unlock()
	return obj
}

// resolveChan resolves h to a channel.
func (r *Runtime) resolveChan(h Handle) (*channel, error) {
	c, _ := r.handles.resolve(h).(*channel)
	if c == nil {
		return nil, ErrBadHandle
	}
	return c, nil
}
