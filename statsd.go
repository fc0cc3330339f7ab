/*
Package statsd implements fire-and-forget statsd client with packet batching.

Metric lines (counters, gauges, timings) are formatted in statsd line protocol
and coalesced into UDP datagrams to reduce syscall and network overhead:

 * metric line is appended to the packet queue, first line after a flush arms
   flush timer (FlushInterval)
 * on timer, explicit Flush or when queue holds full packet (MaxPacketSize),
   pending lines are packed into datagrams, line which doesn't fit into a
   packet on its own is sent alone and never truncated
 * statsd host name is resolved once per client tree, concurrent resolution
   requests are coalesced into single lookup and the result is cached
 * separate goroutines are handling network operations: sending UDP packets
   and redialing UDP socket on errors

Immediate* methods bypass the queue: metric goes out as a datagram of its own,
and optional callback is notified when send attempt is finished.

Child clients (ChildClient) share queue, resolver and disabled predicate with
the parent and differ only in metric prefix.

Delivery is best effort: errors on the queued path are never returned to the
caller, they are logged (throttled) and counted.

Ideas were borrowed from the following stastd clients:

 * https://github.com/quipo/statsd
 * https://github.com/Unix4ever/statsd
 * https://github.com/alexcesaro/statsd/
 * https://github.com/armon/go-metrics

*/
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
