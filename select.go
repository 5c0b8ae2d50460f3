// Copyright 2025 The coro Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coro

// This file contains the implementation of multi-way selection.

const debugSelect = false

// Op is the kind of a Choose clause.
// Op 表示 clause 的操作类型。
type Op uint16

const (
	opBad  Op = iota // zero value, always rejected	// 零值，总是被拒绝
	OpRecv           // receive into Clause.Buf		// 接收（<- ch）
	OpSend           // send from Clause.Buf		// 发送（ch <-）
)

// A Clause describes one pending operation handed to Choose: the target
// channel, the operation kind, and the caller-owned payload buffer whose
// length must equal the channel's element size.
type Clause struct {
	Ch  Handle
	Op  Op
	Buf []byte
}

// sellock locks all the channels involved in the selection. The slice is
// sorted by channel id, so duplicates are adjacent and locked once.
// sellock 按加锁顺序锁住所有 channel；重复的 channel 相邻，只锁一次。
func sellock(chans []*channel, lockorder []uint16) {
	var c *channel
	for _, o := range lockorder {
		c0 := chans[o]
		if c0 != c {
			c = c0
			c.lock.Lock()
		}
	}
}

// selunlock 按加锁顺序的逆序解锁
func selunlock(chans []*channel, lockorder []uint16) {
	for i := len(lockorder) - 1; i >= 0; i-- {
		c := chans[lockorder[i]]
		if i > 0 && c == chans[lockorder[i-1]] {
			continue // will unlock it on the next iteration
		}
		c.lock.Unlock()
	}
}

// Choose commits to exactly one of the given clauses. Clauses are probed
// in list order and the first immediately satisfiable one wins, which
// makes the list order a caller-controlled priority. If none is
// satisfiable the call parks one clause on every target channel and
// resumes on the first wake: a peer transfer, a Done or Close on one of
// the channels, the deadline timer, or runtime shutdown.
//
// The winning clause's index is returned. A nil error means the transfer
// happened; ErrBrokenPipe means that clause's channel is done or closed.
// A preflight failure (bad handle, bad kind, length mismatch) returns the
// faulting clause's index with the error. Timer, non-blocking probes and
// shutdown return -1 with ErrTimedOut or ErrCanceled.
func (r *Runtime) Choose(clauses []Clause, deadline int64) (int, error) {
	if err := r.canBlock(); err != nil {
		return -1, err
	}

	ncases := len(clauses)
	if ncases == 0 {
		// No clauses: degenerate to a bare timer wait.
		// 没有 clause，退化为纯定时器等待
		if deadline == 0 {
			return -1, ErrTimedOut
		}
		sel := &selection{wake: make(chan wakeup, 1)}
		if !r.parkAdd(sel) {
			return -1, ErrCanceled
		}
		if deadline > 0 {
			r.armTimer(sel, deadline)
		}
		w := sel.suspend()
		r.parkRemove(sel)
		return -1, w.err
	}

	if ncases > 1<<16 {
		// lockorder indexes are uint16
		return -1, ErrInvalidArgument
	}

	if debugSelect {
		print("choose: ncases=", ncases, "\n")
	}

	// Resolve every handle before touching any channel state: the stable
	// lock order has to be known up front.
	// 先解析所有句柄，加锁顺序必须在触碰任何 channel 状态之前确定。
	chans := make([]*channel, ncases)
	for i := range clauses {
		c, err := r.resolveChan(clauses[i].Ch)
		if err != nil {
			return i, err
		}
		chans[i] = c
	}

	// Sort the cases by channel id to get the locking order.
	// Simple heap sort, to guarantee n log n time and constant stack
	// footprint.
	// 按 channel id 堆排序生成加锁顺序
	lockorder := make([]uint16, ncases)
	for i := 0; i < ncases; i++ {
		j := i
		c := chans[i]
		for j > 0 && chans[lockorder[(j-1)/2]].id < c.id {
			k := (j - 1) / 2
			lockorder[j] = lockorder[k]
			j = k
		}
		lockorder[j] = uint16(i)
	}
	for i := ncases - 1; i >= 0; i-- {
		o := lockorder[i]
		c := chans[o]
		lockorder[i] = lockorder[0]
		j := 0
		for {
			k := j*2 + 1
			if k >= i {
				break
			}
			if k+1 < i && chans[lockorder[k]].id < chans[lockorder[k+1]].id {
				k++
			}
			if c.id < chans[lockorder[k]].id {
				lockorder[j] = lockorder[k]
				j = k
				continue
			}
			break
		}
		lockorder[j] = o
	}

	// lock all the channels involved in the selection
	sellock(chans, lockorder)

	var (
		cl   *clause
		c    *channel
		cas  *Clause
		casi int
		qp   []byte
		sel  *selection
		cls  []clause
		w    wakeup
		err  error
	)

	// pass 1 - look for something already waiting. Probe order is list
	// order: the first satisfiable clause wins.
	// pass 1 - 按 clause 列表顺序查找可以立即完成的操作
	for i := 0; i < ncases; i++ {
		casi = i
		cas = &clauses[i]
		c = chans[i]

		switch cas.Op {
		case OpRecv:
			if len(cas.Buf) != c.elemsize {
				err = ErrInvalidArgument
				goto retfail
			}
			if c.done && c.qcount == 0 {
				err = ErrBrokenPipe
				goto retfail
			}
			if cl = c.sendq.dequeue(); cl != nil {
				goto recvc
			}
			if c.qcount > 0 {
				goto bufrecv
			}

		case OpSend:
			if len(cas.Buf) != c.elemsize {
				err = ErrInvalidArgument
				goto retfail
			}
			if c.done {
				err = ErrBrokenPipe
				goto retfail
			}
			if cl = c.recvq.dequeue(); cl != nil {
				goto sendc
			}
			if c.qcount < c.dataqsiz {
				goto bufsend
			}

		default:
			err = ErrInvalidArgument
			goto retfail
		}
	}

	if deadline == 0 {
		casi = -1
		err = ErrTimedOut
		goto retfail
	}

	// pass 2 - enqueue on all chans, in lock order. Each clause is tagged
	// with its original index.
	// pass 2 - 按加锁顺序把 clause 挂到每个 channel 的等待队列上
	sel = &selection{wake: make(chan wakeup, 1)}
	if !r.parkAdd(sel) {
		casi = -1
		err = ErrCanceled
		goto retfail
	}
	cls = make([]clause, ncases)
	for _, o := range lockorder {
		cl = &cls[o]
		cl.c = chans[o]
		cl.sel = sel
		cl.index = int(o)
		cl.op = clauses[o].Op
		cl.buf = clauses[o].Buf
		if cl.op == OpSend {
			cl.c.sendq.enqueue(cl)
		} else {
			cl.c.recvq.enqueue(cl)
		}
	}
	if deadline > 0 {
		r.armTimer(sel, deadline)
	}
	selunlock(chans, lockorder)

	// wait for someone to wake us up
	// 等待被唤醒
	w = sel.suspend()
	r.parkRemove(sel)

	// pass 3 - dequeue from unsuccessful chans, otherwise they stack up
	// on quiet channels. The winning clause, if any, was dequeued by
	// whoever woke us; the payload transfer already happened.
	// pass 3 - 把落选的 clause 从各自的队列中摘除
	sellock(chans, lockorder)
	for i := range cls {
		if i == w.index {
			// already dequeued by the waker that woke us up
			// 已被唤醒者摘除
			continue
		}
		cl = &cls[i]
		if cl.op == OpSend {
			cl.c.sendq.remove(cl)
		} else {
			cl.c.recvq.remove(cl)
		}
	}
	selunlock(chans, lockorder)

	if debugSelect {
		print("wait-return: casi=", w.index, "\n")
	}
	return w.index, w.err

bufrecv:
	// can receive from buffer
	// 从缓冲区接收
	qp = c.slot(c.recvx)
	copy(cas.Buf, qp)
	c.recvx++
	if c.recvx == c.dataqsiz {
		c.recvx = 0
	}
	c.qcount--
	selunlock(chans, lockorder)
	return casi, nil

bufsend:
	// can send to buffer
	// 发送到缓冲区
	copy(c.slot(c.sendx), cas.Buf)
	c.sendx++
	if c.sendx == c.dataqsiz {
		c.sendx = 0
	}
	c.qcount++
	selunlock(chans, lockorder)
	return casi, nil

recvc:
	// can receive from sleeping sender (cl)
	recv(c, cl, cas.Buf, func() { selunlock(chans, lockorder) })
	return casi, nil

sendc:
	// can send to a sleeping receiver (cl)
	// 向休眠的接收者发送
	send(c, cl, cas.Buf, func() { selunlock(chans, lockorder) })
	return casi, nil

retfail:
	// preflight failure or nothing satisfiable on a probe
	selunlock(chans, lockorder)
	return casi, err
}
