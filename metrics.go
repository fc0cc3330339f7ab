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
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "statsd_client"

// clientMetrics tracks client's own delivery statistics
type clientMetrics struct {
	datagramsSent prometheus.Counter
	sendErrors    prometheus.Counter
	resolveErrors prometheus.Counter
	linesQueued   prometheus.Counter
	linesDisabled prometheus.Counter
	packetsLost   prometheus.Counter

	reg prometheus.Registerer
}

func newClientMetrics(reg prometheus.Registerer, logger SomeLogger) *clientMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &clientMetrics{
		datagramsSent: counter("datagrams_sent_total", "The total number of datagrams handed to the socket."),
		sendErrors:    counter("send_errors_total", "The total number of datagrams which failed to be sent."),
		resolveErrors: counter("resolve_errors_total", "The total number of sends failed because statsd host was not resolved."),
		linesQueued:   counter("lines_queued_total", "The total number of metric lines queued for batching."),
		linesDisabled: counter("lines_dropped_disabled_total", "The total number of metric calls ignored as client is disabled."),
		packetsLost:   counter("packets_lost_total", "The total number of datagrams dropped on send queue overflow."),
		reg:           reg,
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				logger.Printf("[STATSD] Error registering metrics: %s", err)
			}
		}
	}

	return m
}

func (m *clientMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.datagramsSent,
		m.sendErrors,
		m.resolveErrors,
		m.linesQueued,
		m.linesDisabled,
		m.packetsLost,
	}
}

func (m *clientMetrics) unregister() {
	if m.reg == nil {
		return
	}

	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
}
