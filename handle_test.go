// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coro

import "testing"

func TestBadHandle(t *testing.T) {
	r := New()
	bogus := Handle(1 << 40)

	if err := r.Send(bogus, nil, -1); err != ErrBadHandle {
		t.Fatalf("Send = %v, want ErrBadHandle", err)
	}
	if err := r.Recv(bogus, nil, -1); err != ErrBadHandle {
		t.Fatalf("Recv = %v, want ErrBadHandle", err)
	}
	if err := r.Done(bogus); err != ErrBadHandle {
		t.Fatalf("Done = %v, want ErrBadHandle", err)
	}
	if err := r.Close(bogus); err != ErrBadHandle {
		t.Fatalf("Close = %v, want ErrBadHandle", err)
	}
	if err := r.Send(0, nil, -1); err != ErrBadHandle {
		t.Fatalf("zero handle Send = %v, want ErrBadHandle", err)
	}
}

func TestHandleGeneration(t *testing.T) {
	r := New()
	h1 := mustMakeChan(t, r, 1, 0)
	if err := r.Close(h1); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The slot may be recycled, but the old handle must stay dead.
	h2 := mustMakeChan(t, r, 1, 0)
	if h1 == h2 {
		t.Fatalf("recycled handle equals the consumed one: %v", h1)
	}
	if err := r.Send(h1, []byte{1}, 0); err != ErrBadHandle {
		t.Fatalf("stale Send = %v, want ErrBadHandle", err)
	}
	if err := r.Send(h2, []byte{1}, 0); err != ErrTimedOut {
		t.Fatalf("fresh Send probe = %v, want ErrTimedOut", err)
	}
}

func TestRegistrySlotReuse(t *testing.T) {
	r := New()
	var hs []Handle
	for i := 0; i < 8; i++ {
		hs = append(hs, mustMakeChan(t, r, 1, 1))
	}
	for _, h := range hs {
		if err := r.Close(h); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	// Slots are recycled; every stale handle keeps failing.
	for i := 0; i < 8; i++ {
		mustMakeChan(t, r, 1, 1)
	}
	for _, h := range hs {
		if err := r.Done(h); err != ErrBadHandle {
			t.Fatalf("stale Done = %v, want ErrBadHandle", err)
		}
	}
}
