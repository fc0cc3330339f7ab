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
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Default settings
const (
	DefaultHost              = "localhost"
	DefaultPort              = 8125
	DefaultMetricPrefix      = ""
	DefaultMaxPacketSize     = 1432
	DefaultFlushInterval     = 100 * time.Millisecond
	DefaultResolveTimeout    = 5 * time.Second
	DefaultReportInterval    = time.Minute
	DefaultLogInterval       = time.Second
	DefaultRetryTimeout      = 5 * time.Second
	DefaultSendQueueCapacity = 10
	DefaultSendLoopCount     = 1
)

// SomeLogger defines logging interface that allows using 3rd party loggers
// (e.g. github.com/sirupsen/logrus) with this Statsd client.
type SomeLogger interface {
	Printf(fmt string, args ...interface{})
}

// ClientOptions are statsd client settings
type ClientOptions struct {
	// Host is the statsd server hostname or literal IP address
	Host string

	// Port is the statsd server UDP port
	Port int

	// MetricPrefix is metricPrefix to prepend to every metric being sent
	//
	// Trailing dots are normalized to exactly one dot, so "app" and "app."
	// produce the same names (app.<metric>).
	MetricPrefix string

	// MaxPacketSize is maximum UDP packet size
	//
	// Safe value is 1432 bytes, if your network supports jumbo frames,
	// this value could be raised up to 8960 bytes
	MaxPacketSize int

	// FlushInterval controls how long the first queued line may wait before
	// the queue is flushed
	//
	// Zero disables timer-driven flushing: lines are sent only when
	// a packet fills up, or on Flush/Close
	FlushInterval time.Duration

	// IsDisabled is consulted on every metric call; when it returns true
	// the call does nothing
	IsDisabled func() bool

	// Lookup resolves Host to an IP address, it is called at most once
	// per client tree
	Lookup LookupFunc

	// ResolveTimeout limits single Lookup call
	ResolveTimeout time.Duration

	// ReportInterval instructs client to report number of packets lost
	// each interval via Logger
	//
	// By default lost packets are reported every minute, setting to zero
	// disables reporting
	ReportInterval time.Duration

	// LogInterval throttles error messages from the queued path, at most one
	// error is logged per interval
	LogInterval time.Duration

	// RetryTimeout is the upper bound of the backoff between failed
	// socket dial attempts
	RetryTimeout time.Duration

	// Logger is used by statsd client to report errors and lost packets
	//
	// If not set, default logger to stderr with zerolog is used
	Logger SomeLogger

	// SendQueueCapacity controls length of the queue of packet ready to be sent
	//
	// Packets might stay in the queue during short load bursts or while
	// client is reconnecting to statsd. Packets which don't fit are lost,
	// except for the final flush done by Close, which waits for room.
	SendQueueCapacity int

	// SendLoopCount controls number of goroutines sending UDP packets
	SendLoopCount int

	// Transport overrides UDP delivery, used mostly in tests
	Transport Transport

	// Clock drives flush timers and TimingSince
	Clock clock.Clock

	// Registerer, if set, gets client self metrics registered
	Registerer prometheus.Registerer
}

// Option is type for option transport
type Option func(c *ClientOptions)

// MetricPrefix is prefix to prepend to every metric being sent
//
// Usually metrics are prefixed with app name, e.g. `app.`.
// To avoid providing this prefix for every metric being collected,
// and to enable shared libraries to collect metric under app name,
// use MetricPrefix to set global prefix for all the app metrics,
// e.g. `MetricPrefix("app")`.
//
// By default prefix is empty.
func MetricPrefix(prefix string) Option {
	return func(c *ClientOptions) {
		c.MetricPrefix = prefix
	}
}

// MaxPacketSize control maximum UDP packet size
//
// Default value is DefaultMaxPacketSize
func MaxPacketSize(packetSize int) Option {
	return func(c *ClientOptions) {
		c.MaxPacketSize = packetSize
	}
}

// FlushInterval controls flushing incomplete UDP packets which makes
// sure metric is not delayed longer than FlushInterval
//
// Default value is 100ms, setting FlushInterval to zero disables flushing
func FlushInterval(interval time.Duration) Option {
	return func(c *ClientOptions) {
		c.FlushInterval = interval
	}
}

// IsDisabled sets predicate checked before every metric call
//
// Predicate is shared by child clients.
func IsDisabled(isDisabled func() bool) Option {
	return func(c *ClientOptions) {
		c.IsDisabled = isDisabled
	}
}

// Lookup replaces host name resolution (by default system resolver is used)
func Lookup(lookup LookupFunc) Option {
	return func(c *ClientOptions) {
		c.Lookup = lookup
	}
}

// DNSServer sends host name lookups to the specified nameserver ("ip:port")
// instead of the system one
func DNSServer(server string) Option {
	return func(c *ClientOptions) {
		r := &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, server)
			},
		}
		c.Lookup = ResolverLookup(r)
	}
}

// ResolveTimeout limits time spent in single host name lookup
func ResolveTimeout(timeout time.Duration) Option {
	return func(c *ClientOptions) {
		c.ResolveTimeout = timeout
	}
}

// ReportInterval instructs client to report number of packets lost
// each interval via Logger
//
// By default lost packets are reported every minute, setting to zero
// disables reporting
func ReportInterval(interval time.Duration) Option {
	return func(c *ClientOptions) {
		c.ReportInterval = interval
	}
}

// LogInterval throttles queued path error logging
func LogInterval(interval time.Duration) Option {
	return func(c *ClientOptions) {
		c.LogInterval = interval
	}
}

// RetryTimeout controls maximum delay before socket dial is retried
func RetryTimeout(timeout time.Duration) Option {
	return func(c *ClientOptions) {
		c.RetryTimeout = timeout
	}
}

// Logger is used by statsd client to report errors and lost packets
//
// If not set, default logger to stderr with zerolog is used
func Logger(logger SomeLogger) Option {
	return func(c *ClientOptions) {
		c.Logger = logger
	}
}

// SendQueueCapacity controls length of the queue of packet ready to be sent
//
// Default value is DefaultSendQueueCapacity
func SendQueueCapacity(capacity int) Option {
	return func(c *ClientOptions) {
		c.SendQueueCapacity = capacity
	}
}

// SendLoopCount controls number of goroutines sending UDP packets
//
// Default value is 1, so packets are sent from single goroutine, this
// value might need to be bumped under high load
func SendLoopCount(threads int) Option {
	return func(c *ClientOptions) {
		c.SendLoopCount = threads
	}
}

// WithTransport replaces default UDP transport
//
// Client takes ownership of the transport and closes it on Close.
func WithTransport(transport Transport) Option {
	return func(c *ClientOptions) {
		c.Transport = transport
	}
}

// WithClock replaces wall clock, used in tests
func WithClock(clk clock.Clock) Option {
	return func(c *ClientOptions) {
		c.Clock = clk
	}
}

// Registerer registers client self metrics (datagrams sent, errors, ...)
// with the given prometheus registry
func Registerer(reg prometheus.Registerer) Option {
	return func(c *ClientOptions) {
		c.Registerer = reg
	}
}
