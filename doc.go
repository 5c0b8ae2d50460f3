// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coro implements typed channels with multi-way selection for
// cooperatively scheduled coroutines.
//
// A channel carries fixed-size untyped elements and may be buffered or a
// pure rendezvous point. Every blocking operation takes an absolute
// deadline on the runtime's monotonic clock: a negative deadline blocks
// forever, zero turns the call into a non-blocking probe, and a positive
// deadline arms a timer. Choose commits to exactly one of several pending
// send or receive clauses across distinct channels.
//
// Channels are addressed through handles so that a stale reference can
// never resurrect a closed channel. All operations are safe for use from
// any goroutine; every channel carries its own lock and multi-channel
// selection locks channels in a stable order.
package coro
