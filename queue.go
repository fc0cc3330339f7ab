package statsd

/*

Copyright (c) 2017 Andrey Smirnov

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.

*/

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// dispatchFunc hands complete datagram over to delivery, done might be nil
type dispatchFunc func(datagram []byte, done func(error))

// packetQueue accumulates metric lines and packs them into datagrams
//
// First line queued after a flush arms flush timer, datagram never exceeds
// maxPacketSize unless it consists of single oversized line.
type packetQueue struct {
	maxPacketSize int
	flushInterval time.Duration
	clock         clock.Clock
	dispatch      dispatchFunc

	mu          sync.Mutex
	pending     [][]byte
	pendingSize int
	timer       *clock.Timer
	generation  uint64
	closed      bool
}

func newPacketQueue(maxPacketSize int, flushInterval time.Duration, clk clock.Clock, dispatch dispatchFunc) *packetQueue {
	return &packetQueue{
		maxPacketSize: maxPacketSize,
		flushInterval: flushInterval,
		clock:         clk,
		dispatch:      dispatch,
	}
}

// enqueue appends line (which should be already terminated with lineSeparator)
//
// Once queue accumulates full packet it is flushed right away without
// waiting for the timer. After close enqueue is no-op returning false.
func (q *packetQueue) enqueue(line []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	q.pending = append(q.pending, line)
	q.pendingSize += len(line)

	var batches [][]byte

	if q.pendingSize >= q.maxPacketSize {
		var tail []byte

		if q.pendingSize > q.maxPacketSize && len(line) < q.maxPacketSize {
			// line doesn't fit into current packet, it starts the next one
			tail = line
			q.pending = q.pending[:len(q.pending)-1]
		}

		batches = q.sealLocked()

		if tail != nil {
			q.pending = append(q.pending, tail)
			q.pendingSize = len(tail)
		}
	}

	if len(q.pending) > 0 && q.timer == nil && q.flushInterval > 0 {
		q.generation++
		generation := q.generation
		q.timer = q.clock.AfterFunc(q.flushInterval, func() { q.onTimer(generation) })
	}
	q.mu.Unlock()

	q.dispatchAll(batches)

	return true
}

// flush sends all pending lines now
func (q *packetQueue) flush() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}

	batches := q.sealLocked()
	q.mu.Unlock()

	q.dispatchAll(batches)
}

// sendImmediate sends single line as a datagram of its own, bypassing
// pending lines and the timer
func (q *packetQueue) sendImmediate(line []byte, done func(error)) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()

	if closed {
		if done != nil {
			done(ErrClientClosed)
		}
		return
	}

	q.dispatch(line, done)
}

// close cancels the timer and flushes whatever is left
func (q *packetQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.closed = true
	batches := q.sealLocked()
	q.mu.Unlock()

	q.dispatchAll(batches)
}

func (q *packetQueue) onTimer(generation uint64) {
	q.mu.Lock()
	if q.closed || generation != q.generation {
		// timer was superseded by explicit flush
		q.mu.Unlock()
		return
	}

	q.timer = nil
	batches := q.sealLocked()
	q.mu.Unlock()

	q.dispatchAll(batches)
}

// sealLocked disarms the timer and packs pending lines into datagrams
//
// q.mu should be held.
func (q *packetQueue) sealLocked() [][]byte {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.generation++

	lines := q.pending
	q.pending = nil
	q.pendingSize = 0

	return packLines(lines, q.maxPacketSize)
}

func (q *packetQueue) dispatchAll(batches [][]byte) {
	for _, batch := range batches {
		q.dispatch(batch, nil)
	}
}

// packLines concatenates lines in order into datagrams of at most maxSize bytes,
// line longer than maxSize goes out alone
func packLines(lines [][]byte, maxSize int) [][]byte {
	var (
		batches [][]byte
		cur     []byte
	)

	for _, line := range lines {
		if len(cur) > 0 && len(cur)+len(line) > maxSize {
			batches = append(batches, cur)
			cur = nil
		}

		if cur == nil {
			size := maxSize
			if len(line) > size {
				size = len(line)
			}
			cur = make([]byte, 0, size)
		}

		cur = append(cur, line...)
	}

	if len(cur) > 0 {
		batches = append(batches, cur)
	}

	return batches
}
