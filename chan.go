// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coro

// This file contains the implementation of coro channels.

// Invariants:
//  At least one of c.sendq and c.recvq is empty,
//  except for the case of an unbuffered channel with a single coroutine
//  blocked on it for both sending and receiving using a Choose call,
//  in which case the length of c.sendq and c.recvq is limited only by the
//  size of the Choose clause list.
//
// For buffered channels, also:
//  c.qcount > 0 implies that c.recvq is empty.
//  c.qcount < c.dataqsiz implies that c.sendq is empty.
//
// 不变量：
// c.sendq 和 c.recvq 中至少一个为空，除非是 unbuffered channel 并且同一个
// Choose 在其上同时挂了发送和接收的 clause。
// 对于 buffered channel，同样：
//  c.qcount > 0 隐含 c.recvq 为空；c.qcount < c.dataqsiz 隐含 c.sendq 为空。

import (
	"sync"
	"sync/atomic"

	"github.com/veezhang/coro/internal/math"
)

const (
	// maxAlloc caps a single ring buffer allocation.
	maxAlloc  = 1 << 30
	debugChan = false
)

type channel struct {
	id Handle // registry handle, also the stable lock-order key	// 注册句柄，同时作为加锁排序的 key

	qcount   int    // total data in the queue						// 队列中的数据数
	dataqsiz int    // size of the circular queue					// 环形队列的大小
	buf      []byte // dataqsiz slots of elemsize bytes each		// 底层缓冲数组
	elemsize int    //												// 元素大小
	done     bool   // no further sends will succeed				// 终止标志，单调 false -> true
	sendx    int    // send index									// 发送索引
	recvx    int    // receive index								// 接收索引
	recvq    waitq  // list of recv waiters							// recv 等待队列
	sendq    waitq  // list of send waiters							// send 等待队列

	// lock protects all fields in channel, as well as several fields
	// in clauses parked on this channel.
	// lock 保护 channel 的所有字段，以及休眠在此 channel 上的 clause 的一些字段。
	lock sync.Mutex
}

// A clause is one pending operation parked on a channel wait queue. It
// lives in the frame of the blocked call; the queue only borrows its
// links. The payload slice must stay valid until the clause is triggered
// or removed.
// clause 挂在等待队列上，由发起阻塞调用的栈帧拥有；队列只借用它的链接。
type clause struct {
	prev, next *clause

	c     *channel
	sel   *selection // owning selection							// 所属的 selection
	index int        // position in the owner's clause list			// 在 clause 列表中的序号
	op    Op
	buf   []byte // caller-owned payload memory						// 调用方拥有的缓冲
}

// waitq is a FIFO of parked clauses. 等待队列，clause 双向链表。
type waitq struct {
	first *clause
	last  *clause
}

// MakeChan creates a channel carrying elements of elemSize bytes with a
// ring buffer of capacity elements. elemSize zero is legal (the elements
// carry no payload) and capacity zero makes a pure rendezvous channel.
func (r *Runtime) MakeChan(elemSize, capacity int) (Handle, error) {
	if err := r.canBlock(); err != nil {
		return 0, err
	}
	if elemSize < 0 || capacity < 0 {
		return 0, ErrInvalidArgument
	}

	mem, overflow := math.MulUintptr(uintptr(elemSize), uintptr(capacity))
	if overflow || mem > maxAlloc {
		return 0, ErrTooBig
	}

	c := &channel{
		elemsize: elemSize,
		dataqsiz: capacity,
	}
	if mem > 0 {
		c.buf = make([]byte, mem)
	}
	c.id = r.handles.register(c)

	if debugChan {
		print("makechan: chan=", int64(c.id), "; elemsize=", elemSize, "; dataqsiz=", capacity, "\n")
	}
	return c.id, nil
}

// slot returns the i'th element slot of the ring buffer.
// slot(i) 返回环形缓冲的第 i 个槽，即 buf[i*elemsize:(i+1)*elemsize]。
func (c *channel) slot(i int) []byte {
	return c.buf[i*c.elemsize : (i+1)*c.elemsize]
}

// Send delivers the payload in buf on the channel h. len(buf) must equal
// the channel's element size. It returns nil once the payload has been
// handed to a receiver or buffered, ErrTimedOut if the deadline expires
// first, and ErrBrokenPipe if the channel is done or gets closed while
// the send is parked.
func (r *Runtime) Send(h Handle, buf []byte, deadline int64) error {
	if err := r.canBlock(); err != nil {
		return err
	}
	c, err := r.resolveChan(h)
	if err != nil {
		return err
	}
	if len(buf) != c.elemsize {
		return ErrInvalidArgument
	}

	if debugChan {
		print("send: chan=", int64(c.id), "\n")
	}

	c.lock.Lock()

	// 不允许向已经 done 的 channel 发送数据
	if c.done {
		c.lock.Unlock()
		return ErrBrokenPipe
	}

	if cl := c.recvq.dequeue(); cl != nil {
		// Found a waiting receiver. We pass the value we want to send
		// directly to the receiver, bypassing the channel buffer (if any).
		// 找到了阻塞在 channel 上的 receiver，直接发送
		send(c, cl, buf, func() { c.lock.Unlock() })
		return nil
	}

	if c.qcount < c.dataqsiz {
		// Space is available in the channel buffer. Enqueue the element
		// to send.
		// 缓冲区有空间剩余，入队
		copy(c.slot(c.sendx), buf)
		c.sendx++
		if c.sendx == c.dataqsiz {
			c.sendx = 0
		}
		c.qcount++
		c.lock.Unlock()
		return nil
	}

	// 非阻塞
	if deadline == 0 {
		c.lock.Unlock()
		return ErrTimedOut
	}

	// Block on the channel. Some receiver will complete our operation
	// for us.
	// 阻塞在 channel 上，等待接收方完成本次操作
	sel := &selection{wake: make(chan wakeup, 1)}
	cl := &clause{c: c, sel: sel, op: OpSend, buf: buf}
	if !r.parkAdd(sel) {
		c.lock.Unlock()
		return ErrCanceled
	}
	c.sendq.enqueue(cl)
	if deadline > 0 {
		r.armTimer(sel, deadline)
	}
	c.lock.Unlock()

	// someone woke us up.
	// 被唤醒
	w := sel.suspend()
	r.parkRemove(sel)
	if w.err == ErrTimedOut || w.err == ErrCanceled {
		// Timer and shutdown wakes do not touch the queue; unlink the
		// clause before the frame that owns it goes away.
		// 定时器和 Shutdown 不会摘链，返回前自行摘除
		c.lock.Lock()
		c.sendq.remove(cl)
		c.lock.Unlock()
	}
	return w.err
}

// Recv receives one element from the channel h into buf. len(buf) must
// equal the channel's element size. Buffered elements of a done channel
// are still delivered; once drained Recv returns ErrBrokenPipe.
func (r *Runtime) Recv(h Handle, buf []byte, deadline int64) error {
	if err := r.canBlock(); err != nil {
		return err
	}
	c, err := r.resolveChan(h)
	if err != nil {
		return err
	}
	if len(buf) != c.elemsize {
		return ErrInvalidArgument
	}

	if debugChan {
		print("recv: chan=", int64(c.id), "\n")
	}

	c.lock.Lock()

	// channel 已经 done 且没有剩余数据，直接返回
	if c.done && c.qcount == 0 {
		c.lock.Unlock()
		return ErrBrokenPipe
	}

	if cl := c.sendq.dequeue(); cl != nil {
		// Found a waiting sender. If buffer is size 0, receive value
		// directly from sender. Otherwise, receive from head of queue
		// and add sender's value to the tail of the queue (both map to
		// the same buffer slot because the queue is full).
		// 找到了阻塞的 sender：无缓冲则直接收，有缓冲则收队首并把
		// sender 的值补到队尾（队列已满，两者是同一个槽）。
		recv(c, cl, buf, func() { c.lock.Unlock() })
		return nil
	}

	if c.qcount > 0 {
		// Receive directly from queue
		// 直接从缓冲队列接收
		copy(buf, c.slot(c.recvx))
		c.recvx++
		if c.recvx == c.dataqsiz {
			c.recvx = 0
		}
		c.qcount--
		c.lock.Unlock()
		return nil
	}

	if deadline == 0 {
		c.lock.Unlock()
		return ErrTimedOut
	}

	// no sender available: block on this channel.
	// 没有 sender，阻塞在 channel 上
	sel := &selection{wake: make(chan wakeup, 1)}
	cl := &clause{c: c, sel: sel, op: OpRecv, buf: buf}
	if !r.parkAdd(sel) {
		c.lock.Unlock()
		return ErrCanceled
	}
	c.recvq.enqueue(cl)
	if deadline > 0 {
		r.armTimer(sel, deadline)
	}
	c.lock.Unlock()

	// someone woke us up
	// 被唤醒
	w := sel.suspend()
	r.parkRemove(sel)
	if w.err == ErrTimedOut || w.err == ErrCanceled {
		c.lock.Lock()
		c.recvq.remove(cl)
		c.lock.Unlock()
	}
	return w.err
}

// send processes a send operation on an empty channel c. The payload in
// src is copied into the parked receiver cl's buffer and the receiver is
// then woken up to go on its merry way.
// Channel c must be empty and locked. send unlocks c with unlockf.
// cl must already be dequeued from c.
func send(c *channel, cl *clause, src []byte, unlockf func()) {
	copy(cl.buf, src) // 直接写入 receiver 的缓冲
	unlockf()
	// 拷贝完毕再唤醒接收者
	cl.sel.wake <- wakeup{index: cl.index, err: nil}
}

// recv processes a receive operation on a full channel c.
// There are 2 parts:
//  1. The value sent by the sender cl is put into the channel and the
//     sender is woken up to go on its merry way.
//  2. The value received by the receiver (the current caller) is written
//     to dst.
// For synchronous channels, both values are the same.
// For asynchronous channels, the receiver gets its data from the channel
// buffer and the sender's data is put in the channel buffer.
// Channel c must be full and locked. recv unlocks c with unlockf.
// cl must already be dequeued from c.
func recv(c *channel, cl *clause, dst []byte, unlockf func()) {
	if c.dataqsiz == 0 {
		// copy data from sender
		// 直接从对方的缓冲拷贝
		copy(dst, cl.buf)
	} else {
		// Queue is full. Take the item at the head of the queue. Make
		// the sender enqueue its item at the tail of the queue. Since
		// the queue is full, those are both the same slot.
		// 队列已满：收队首，sender 的值放入队尾，两者是同一个槽。
		qp := c.slot(c.recvx)
		// copy data from queue to receiver
		copy(dst, qp)
		// copy data from sender to queue
		copy(qp, cl.buf)
		c.recvx++
		if c.recvx == c.dataqsiz {
			c.recvx = 0
		}
		c.sendx = c.recvx // c.sendx = (c.sendx+1) % c.dataqsiz
	}
	unlockf()
	cl.sel.wake <- wakeup{index: cl.index, err: nil}
}

// Done marks the channel as terminal: every parked clause on either queue
// is woken with ErrBrokenPipe, subsequent sends fail with ErrBrokenPipe
// and receives drain the remaining buffered elements first. Calling Done
// on a channel that is already done fails with ErrBrokenPipe and changes
// nothing.
func (r *Runtime) Done(h Handle) error {
	c, err := r.resolveChan(h)
	if err != nil {
		return err
	}
	c.lock.Lock()
	if c.done {
		c.lock.Unlock()
		return ErrBrokenPipe
	}
	c.done = true
	list := c.drainLocked()
	c.lock.Unlock()

	// Wake the parked clauses now that we've dropped the channel lock.
	// 释放 channel 锁之后再唤醒
	for _, cl := range list {
		cl.sel.wake <- wakeup{index: cl.index, err: ErrBrokenPipe}
	}
	return nil
}

// Close consumes the handle and releases the channel. Parked clauses are
// woken with ErrBrokenPipe; buffered-but-undelivered elements are
// dropped. Close does not require the channel to be done first.
func (r *Runtime) Close(h Handle) error {
	c, _ := r.handles.unregister(h).(*channel)
	if c == nil {
		return ErrBadHandle
	}
	c.lock.Lock()
	c.done = true
	list := c.drainLocked()
	c.qcount = 0
	c.buf = nil
	c.lock.Unlock()

	for _, cl := range list {
		cl.sel.wake <- wakeup{index: cl.index, err: ErrBrokenPipe}
	}
	return nil
}

// drainLocked dequeues every parked clause from both queues and returns
// the claimed ones. Callers wake them after dropping c.lock.
func (c *channel) drainLocked() []*clause {
	var list []*clause
	// release all readers
	// 释放所有的 reader
	for {
		cl := c.recvq.dequeue()
		if cl == nil {
			break
		}
		list = append(list, cl)
	}
	// release all writers
	// 释放所有的 writer
	for {
		cl := c.sendq.dequeue()
		if cl == nil {
			break
		}
		list = append(list, cl)
	}
	return list
}

// Len returns the number of buffered elements in the channel.
func (r *Runtime) Len(h Handle) (int, error) {
	c, err := r.resolveChan(h)
	if err != nil {
		return 0, err
	}
	c.lock.Lock()
	n := c.qcount
	c.lock.Unlock()
	return n, nil
}

// Cap returns the channel's buffer capacity.
func (r *Runtime) Cap(h Handle) (int, error) {
	c, err := r.resolveChan(h)
	if err != nil {
		return 0, err
	}
	return c.dataqsiz, nil
}

// enqueue 入队
func (q *waitq) enqueue(cl *clause) {
	cl.next = nil
	x := q.last
	if x == nil {
		// 此时队列空
		cl.prev = nil
		q.first = cl
		q.last = cl
		return
	}
	// 此时队列不空
	cl.prev = x
	x.next = cl
	q.last = cl
}

// dequeue pops the head clause and claims its selection. A clause whose
// selection was already claimed by a timer or by Shutdown is discarded:
// its owner is awake and will not look at the queue links again.
// dequeue 出队并认领其 selection；认领失败的 clause 直接丢弃，
// 其所有者已被唤醒，不会再访问队列链接。
func (q *waitq) dequeue() *clause {
	for {
		cl := q.first
		if cl == nil {
			return nil
		}
		y := cl.next
		if y == nil {
			q.first = nil
			q.last = nil
		} else {
			y.prev = nil
			q.first = y
			cl.next = nil // mark as removed (see remove)	// 标记为已移除 (see remove)
		}

		// There is a small window between another waker claiming this
		// clause's selection and its owner grabbing the channel locks to
		// unlink the leftovers. The CAS on sel.done tells us when someone
		// else has already won the race to wake the owner.
		// 对端认领 selection 和所有者持锁摘除残留之间有一个小窗口，
		// 用 sel.done 上的 CAS 判断是否已经有人赢得竞争。
		if !atomic.CompareAndSwapUint32(&cl.sel.done, 0, 1) {
			continue
		}
		return cl
	}
}

// remove unlinks cl from wherever it sits in q. It tolerates a clause
// that some dequeue already popped.
func (q *waitq) remove(cl *clause) {
	x := cl.prev
	y := cl.next
	if x != nil {
		if y != nil {
			// middle of queue
			x.next = y
			y.prev = x
			cl.next = nil
			cl.prev = nil
			return
		}
		// end of queue
		x.next = nil
		q.last = x
		cl.prev = nil
		return
	}
	if y != nil {
		// start of queue
		y.prev = nil
		q.first = y
		cl.next = nil
		return
	}

	// x==y==nil. Either cl is the only element in the queue, or it has
	// already been removed. Use q.first to disambiguate.
	if q.first == cl {
		q.first = nil
		q.last = nil
	}
}
