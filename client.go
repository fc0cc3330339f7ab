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
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Client implements statsd client
//
// Client and all its children share single packet queue, address resolver
// and transport. Client is safe for concurrent use.
type Client struct {
	core   *clientCore
	prefix string
}

// clientCore is state shared by the whole client tree
type clientCore struct {
	options ClientOptions

	queue     *packetQueue
	resolver  *Resolver
	transport Transport
	metrics   *clientMetrics

	errLimiter *rate.Limiter

	closeOnce sync.Once
	closing   int32
	closed    int32

	lostPackets int64
}

func defaultOptions() ClientOptions {
	return ClientOptions{
		Host:              DefaultHost,
		Port:              DefaultPort,
		MetricPrefix:      DefaultMetricPrefix,
		MaxPacketSize:     DefaultMaxPacketSize,
		FlushInterval:     DefaultFlushInterval,
		ResolveTimeout:    DefaultResolveTimeout,
		ReportInterval:    DefaultReportInterval,
		LogInterval:       DefaultLogInterval,
		RetryTimeout:      DefaultRetryTimeout,
		Logger:            newDefaultLogger(),
		SendQueueCapacity: DefaultSendQueueCapacity,
		SendLoopCount:     DefaultSendLoopCount,
	}
}

// NewClient creates new statsd client and starts background processing
//
// Client sends metrics to statsd server at addr ("host:port", "host" or
// empty for localhost:8125). Host name is resolved once, on first send.
//
// Client settings could be controlled via functions of type Option
func NewClient(addr string, options ...Option) *Client {
	opts := defaultOptions()

	portErr := opts.setAddr(addr)

	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = newDefaultLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.IsDisabled == nil {
		opts.IsDisabled = func() bool { return false }
	}
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = DefaultMaxPacketSize
	}
	if opts.SendLoopCount <= 0 {
		opts.SendLoopCount = DefaultSendLoopCount
	}

	if portErr != nil {
		opts.Logger.Printf("[STATSD] Invalid port in %q, using %d: %s", addr, opts.Port, portErr)
	}

	c := &clientCore{
		options: opts,
		metrics: newClientMetrics(opts.Registerer, opts.Logger),
	}

	limit := rate.Inf
	if opts.LogInterval > 0 {
		limit = rate.Every(opts.LogInterval)
	}
	c.errLimiter = rate.NewLimiter(limit, 1)

	c.transport = opts.Transport
	if c.transport == nil {
		c.transport = newUDPTransport(opts)
	}

	c.resolver = NewResolver(opts.Host, opts.Lookup, opts.ResolveTimeout)
	c.queue = newPacketQueue(opts.MaxPacketSize, opts.FlushInterval, opts.Clock, c.deliver)

	return &Client{
		core:   c,
		prefix: normalizePrefix(opts.MetricPrefix),
	}
}

// setAddr fills in Host and Port from addr, keeping defaults for missing parts
func (o *ClientOptions) setAddr(addr string) error {
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// no port
		o.Host = strings.Trim(addr, "[]")
		return nil
	}

	if host != "" {
		o.Host = host
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return err
	}

	o.Port = p

	return nil
}

// normalizePrefix makes sure non-empty prefix ends with exactly one dot
func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, ".")
	if prefix == "" {
		return ""
	}

	return prefix + "."
}

// ChildClient returns client which shares queue, resolver and disabled
// predicate with c, metric names get additional prefix suffix
//
// Closing any client of the tree closes all of them.
func (c *Client) ChildClient(suffix string) *Client {
	return &Client{
		core:   c.core,
		prefix: c.prefix + normalizePrefix(strings.TrimLeft(suffix, ".")),
	}
}

// Prefix returns metric prefix of the client
func (c *Client) Prefix() string {
	return c.prefix
}

// Resolver returns address resolver shared by the client tree
func (c *Client) Resolver() *Resolver {
	return c.core.resolver
}

// Flush sends queued metrics without waiting for flush interval
func (c *Client) Flush() {
	c.core.queue.flush()
}

// Close flushes queued metrics and stops the client
//
// Children share resources with the parent, so Close on any of them
// stops the whole tree. Metric calls after Close are ignored.
func (c *Client) Close() error {
	var err error

	c.core.closeOnce.Do(func() {
		err = c.core.close()
	})

	return err
}

// GetLostPackets returns number of packets lost during client lifecycle
func (c *Client) GetLostPackets() int64 {
	return atomic.LoadInt64(&c.core.lostPackets)
}

// Counter adds delta to a counter metric
func (c *Client) Counter(stat string, delta int64) {
	c.enqueue(stat, delta, typeCounter, 1)
}

// SampledCounter adds delta to a counter metric, but only sampleRate
// fraction of calls is actually sent
//
// Server scales values back by 1/sampleRate.
func (c *Client) SampledCounter(stat string, delta int64, sampleRate float64) {
	if sampleRate < 1 && rand.Float64() >= sampleRate {
		return
	}

	c.enqueue(stat, delta, typeCounter, sampleRate)
}

// Increment increments a counter metric
//
// Often used to note a particular event
func (c *Client) Increment(stat string) {
	c.Counter(stat, 1)
}

// Decrement decrements a counter metric
func (c *Client) Decrement(stat string) {
	c.Counter(stat, -1)
}

// Gauge sets constant value for the interval
//
// Value could be any number or a string label. Gauges are sent right away
// as a datagram of its own.
func (c *Client) Gauge(stat string, value interface{}) {
	c.immediate(stat, value, typeGauge, nil)
}

// Timing tracks a duration event, the time delta must be given in milliseconds
func (c *Client) Timing(stat string, delta int64) {
	c.enqueue(stat, delta, typeTiming, 1)
}

// PrecisionTiming track a duration event, the time delta has to be a duration
func (c *Client) PrecisionTiming(stat string, delta time.Duration) {
	c.enqueue(stat, delta, typeTiming, 1)
}

// TimingSince tracks time elapsed since start in whole milliseconds
func (c *Client) TimingSince(stat string, start time.Time) {
	c.enqueue(stat, millisecondsSince(c.core.options.Clock.Now(), start), typeTiming, 1)
}

// ImmediateCounter sends counter delta right away, done (if not nil)
// is called when send attempt is finished
func (c *Client) ImmediateCounter(stat string, delta int64, done func(error)) {
	c.immediate(stat, delta, typeCounter, done)
}

// ImmediateIncrement sends counter increment right away
func (c *Client) ImmediateIncrement(stat string, done func(error)) {
	c.ImmediateCounter(stat, 1, done)
}

// ImmediateDecrement sends counter decrement right away
func (c *Client) ImmediateDecrement(stat string, done func(error)) {
	c.ImmediateCounter(stat, -1, done)
}

// ImmediateGauge sends gauge value right away
func (c *Client) ImmediateGauge(stat string, value interface{}, done func(error)) {
	c.immediate(stat, value, typeGauge, done)
}

// ImmediateTiming sends timing in milliseconds right away
func (c *Client) ImmediateTiming(stat string, delta int64, done func(error)) {
	c.immediate(stat, delta, typeTiming, done)
}

// ImmediateTimingSince sends time elapsed since start right away
func (c *Client) ImmediateTimingSince(stat string, start time.Time, done func(error)) {
	c.immediate(stat, millisecondsSince(c.core.options.Clock.Now(), start), typeTiming, done)
}

func (c *Client) isDisabled() bool {
	if c.core.options.IsDisabled() {
		c.core.metrics.linesDisabled.Inc()
		return true
	}

	return false
}

func (c *Client) enqueue(stat string, value interface{}, typ string, sampleRate float64) {
	if c.isDisabled() {
		return
	}

	line := formatLine(c.prefix, stat, value, typ, sampleRate)
	line = append(line, lineSeparator)

	if c.core.queue.enqueue(line) {
		c.core.metrics.linesQueued.Inc()
	}
}

func (c *Client) immediate(stat string, value interface{}, typ string, done func(error)) {
	if c.isDisabled() {
		complete(done, ErrClientDisabled)
		return
	}

	c.core.queue.sendImmediate(formatLine(c.prefix, stat, value, typ, 1), done)
}

// deliver resolves statsd address and passes datagram to the transport
//
// Datagrams without done come from the queue, their errors are only logged.
func (c *clientCore) deliver(datagram []byte, done func(error)) {
	if done == nil {
		done = c.logError
	}

	c.resolver.Resolve(func(ip net.IP, err error) {
		if err != nil {
			c.metrics.resolveErrors.Inc()
			done(err)
			return
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			done(ErrClientClosed)
			return
		}

		addr := &net.UDPAddr{IP: ip, Port: c.options.Port}
		accounted := func(err error) {
			c.account(err)
			done(err)
		}

		if wt, ok := c.transport.(WaitingTransport); ok && atomic.LoadInt32(&c.closing) == 1 {
			wt.SendWait(datagram, addr, accounted)
			return
		}

		c.transport.Send(datagram, addr, accounted)
	})
}

func (c *clientCore) account(err error) {
	switch {
	case err == nil:
		c.metrics.datagramsSent.Inc()
	case errors.Is(err, ErrSendQueueFull):
		atomic.AddInt64(&c.lostPackets, 1)
		c.metrics.packetsLost.Inc()
	default:
		c.metrics.sendErrors.Inc()
	}
}

func (c *clientCore) logError(err error) {
	if err == nil || errors.Is(err, ErrSendQueueFull) {
		// lost packets are reported periodically
		return
	}

	if c.errLimiter.Allow() {
		c.options.Logger.Printf("[STATSD] Error sending metrics: %s", err)
	}
}

// close flushes the queue and waits (up to ResolveTimeout) for the address,
// so that final flush reaches the transport before it is closed
//
// Lookup still in flight after that is abandoned, its datagrams are dropped.
func (c *clientCore) close() error {
	atomic.StoreInt32(&c.closing, 1)
	c.queue.close()

	ctx := context.Background()
	if c.options.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.ResolveTimeout)
		defer cancel()
	}
	c.resolver.waitInFlight(ctx)

	atomic.StoreInt32(&c.closed, 1)

	err := c.transport.Close()
	c.metrics.unregister()

	return err
}
