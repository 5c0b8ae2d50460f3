// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coro

import "errors"

// Operation errors. All failures are reported through one of these
// sentinel values and compare with ==.
// 所有失败都通过这些哨兵错误返回，使用 == 比较。
var (
	// ErrCanceled reports that the runtime is shutting down.
	ErrCanceled = errors.New("coro: runtime is shutting down")

	// ErrBadHandle reports an unknown, stale, or mistyped handle.
	ErrBadHandle = errors.New("coro: bad handle")

	// ErrInvalidArgument reports a malformed clause, a bad operation
	// kind, or a payload whose length does not match the channel's
	// element size.
	ErrInvalidArgument = errors.New("coro: invalid argument")

	// ErrBrokenPipe reports an operation against a channel that is done
	// or has been closed while the operation was parked on it.
	ErrBrokenPipe = errors.New("coro: broken pipe")

	// ErrTimedOut reports an expired deadline, including the zero
	// deadline of a non-blocking probe.
	ErrTimedOut = errors.New("coro: timed out")

	// ErrTooBig reports a channel buffer that cannot be allocated.
	ErrTooBig = errors.New("coro: channel buffer too big")
)
