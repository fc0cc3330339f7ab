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
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/multierr"
)

// Transport delivers datagrams to statsd server
//
// Send should never block, done (if not nil) is called once delivery
// attempt is finished.
type Transport interface {
	Send(datagram []byte, addr *net.UDPAddr, done func(error))
	Close() error
}

// WaitingTransport is a Transport which can wait for room in its send
// queue instead of dropping the datagram
//
// Client uses SendWait for the final flush performed by Close.
type WaitingTransport interface {
	Transport
	SendWait(datagram []byte, addr *net.UDPAddr, done func(error))
}

type notification struct {
	done func(error)
	err  error
}

type sendRequest struct {
	buf  []byte
	addr *net.UDPAddr
	done func(error)
}

// UDPTransport sends datagrams over UDP from a pool of goroutines
type UDPTransport struct {
	options ClientOptions

	sendQueue chan sendRequest

	mu     sync.RWMutex
	closed bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup

	notifyMu      sync.Mutex
	notifications []notification
	notifySignal  chan struct{}
	notifyStop    chan struct{}

	closeErrLock sync.Mutex
	closeErr     error

	lostPacketsPeriod, lostPacketsOverall int64
}

// NewUDPTransport creates UDP transport and starts sending goroutines
//
// Relevant options are SendQueueCapacity, SendLoopCount, RetryTimeout,
// ReportInterval and Logger.
func NewUDPTransport(options ...Option) *UDPTransport {
	opts := defaultOptions()
	for _, option := range options {
		option(&opts)
	}

	return newUDPTransport(opts)
}

func newUDPTransport(options ClientOptions) *UDPTransport {
	t := &UDPTransport{
		options:   options,
		sendQueue:    make(chan sendRequest, options.SendQueueCapacity),
		shutdown:     make(chan struct{}),
		notifySignal: make(chan struct{}, 1),
		notifyStop:   make(chan struct{}),
	}

	go t.notifyLoop()

	for i := 0; i < t.options.SendLoopCount; i++ {
		t.shutdownWg.Add(1)
		go t.sendLoop()
	}

	if t.options.ReportInterval > 0 {
		t.shutdownWg.Add(1)
		go t.reportLoop()
	}

	return t
}

// Send puts datagram into send queue
//
// If queue is full, datagram is dropped and counted as lost.
func (t *UDPTransport) Send(datagram []byte, addr *net.UDPAddr, done func(error)) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		complete(done, ErrClientClosed)
		return
	}

	select {
	case t.sendQueue <- sendRequest{buf: datagram, addr: addr, done: done}:
		t.mu.RUnlock()
	default:
		t.mu.RUnlock()

		// queue overflow, we lost some data
		atomic.AddInt64(&t.lostPacketsPeriod, 1)
		atomic.AddInt64(&t.lostPacketsOverall, 1)
		complete(done, ErrSendQueueFull)
	}
}

// SendWait puts datagram into send queue, waiting for free slot if queue
// is full
//
// Datagram is dropped and counted as lost only if transport is shut down
// while waiting.
func (t *UDPTransport) SendWait(datagram []byte, addr *net.UDPAddr, done func(error)) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		complete(done, ErrClientClosed)
		return
	}

	req := sendRequest{buf: datagram, addr: addr, done: done}

	select {
	case t.sendQueue <- req:
		t.mu.RUnlock()
		return
	default:
	}

	select {
	case t.sendQueue <- req:
		t.mu.RUnlock()
	case <-t.shutdown:
		t.mu.RUnlock()

		atomic.AddInt64(&t.lostPacketsPeriod, 1)
		atomic.AddInt64(&t.lostPacketsOverall, 1)
		complete(done, ErrSendQueueFull)
	}
}

// Close delivers queued datagrams and stops the transport
//
// Close returns once every queued datagram was written to the socket,
// completion callbacks might still be running. It is safe to call Close
// from a completion callback. Errors closing sockets are returned combined.
func (t *UDPTransport) Close() error {
	// unblocks SendWait callers, so that the write lock below can be taken
	t.shutdownOnce.Do(func() { close(t.shutdown) })

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.sendQueue)
	t.mu.Unlock()

	t.shutdownWg.Wait()
	close(t.notifyStop)

	t.closeErrLock.Lock()
	defer t.closeErrLock.Unlock()

	return t.closeErr
}

// GetLostPackets returns number of packets lost during transport lifecycle
func (t *UDPTransport) GetLostPackets() int64 {
	return atomic.LoadInt64(&t.lostPacketsOverall)
}

// sendLoop handles packet delivery over UDP, socket is redialed when
// destination changes or write fails
func (t *UDPTransport) sendLoop() {
	defer t.shutdownWg.Done()

	var (
		sock     net.Conn
		sockAddr string
	)

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    t.options.RetryTimeout,
		Factor: 2,
		Jitter: true,
	}

	defer func() {
		if sock == nil {
			return
		}

		if err := sock.Close(); err != nil {
			t.closeErrLock.Lock()
			t.closeErr = multierr.Append(t.closeErr, err)
			t.closeErrLock.Unlock()
		}
	}()

	for req := range t.sendQueue {
		addr := req.addr.String()

		if sock != nil && sockAddr != addr {
			_ = sock.Close()
			sock = nil
		}

		if sock == nil {
			var err error

			sock, err = net.DialUDP("udp", nil, req.addr)
			if err != nil {
				sock = nil
				t.notify(req.done, fmt.Errorf("dial %s: %w", addr, err))
				t.wait(b.Duration())
				continue
			}

			sockAddr = addr
			b.Reset()
		}

		if _, err := sock.Write(req.buf); err != nil {
			_ = sock.Close()
			sock = nil
			t.notify(req.done, fmt.Errorf("send to %s: %w", addr, err))
			t.wait(b.Duration())
			continue
		}

		t.notify(req.done, nil)
	}
}

// wait pauses sending after error, shutdown cuts the pause short
func (t *UDPTransport) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.shutdown:
	}
}

// reportLoop reports periodically number of packets lost
func (t *UDPTransport) reportLoop() {
	defer t.shutdownWg.Done()

	reportTicker := time.NewTicker(t.options.ReportInterval)
	defer reportTicker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-reportTicker.C:
			lostPeriod := atomic.SwapInt64(&t.lostPacketsPeriod, 0)
			if lostPeriod > 0 {
				t.options.Logger.Printf("[STATSD] %d packets lost (overflow)", lostPeriod)
			}
		}
	}
}

// notify hands delivery result over to notifyLoop, so that send goroutines
// never run user callbacks
func (t *UDPTransport) notify(done func(error), err error) {
	if done == nil {
		return
	}

	t.notifyMu.Lock()
	t.notifications = append(t.notifications, notification{done: done, err: err})
	t.notifyMu.Unlock()

	select {
	case t.notifySignal <- struct{}{}:
	default:
	}
}

// notifyLoop runs completion callbacks in order of delivery
//
// Loop exits after Close, once send goroutines are stopped and remaining
// callbacks are run.
func (t *UDPTransport) notifyLoop() {
	for {
		select {
		case <-t.notifySignal:
			t.runNotifications()
		case <-t.notifyStop:
			t.runNotifications()
			return
		}
	}
}

func (t *UDPTransport) runNotifications() {
	for {
		t.notifyMu.Lock()
		batch := t.notifications
		t.notifications = nil
		t.notifyMu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, n := range batch {
			n.done(n.err)
		}
	}
}

func complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
