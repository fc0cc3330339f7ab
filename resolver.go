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
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// LookupFunc resolves host name to single IP address
type LookupFunc func(ctx context.Context, host string) (net.IP, error)

// ResolverLookup builds LookupFunc on top of net.Resolver, IPv4 addresses
// are preferred
func ResolverLookup(r *net.Resolver) LookupFunc {
	return func(ctx context.Context, host string) (net.IP, error) {
		addrs, err := r.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}

		if len(addrs) == 0 {
			return nil, ErrNoAddress
		}

		for _, addr := range addrs {
			if ip4 := addr.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}

		return addrs[0].IP, nil
	}
}

type resolveState int

const (
	stateUnresolved resolveState = iota
	stateResolving
	stateResolved
	stateFailed
)

// Resolver resolves single host name once and shares the result
//
// Any number of Resolve calls made while lookup is in flight are coalesced
// into one lookup, all of them get the same result. Result (including failure)
// is cached forever, the only way to retry failed lookup is Reset.
type Resolver struct {
	host    string
	lookup  LookupFunc
	timeout time.Duration

	mu      sync.Mutex
	state   resolveState
	ip      net.IP
	err     error
	waiters []func(net.IP, error)

	lookups int64
}

// NewResolver creates resolver for host
//
// Literal IP address is never looked up, resolver starts resolved.
func NewResolver(host string, lookup LookupFunc, timeout time.Duration) *Resolver {
	if lookup == nil {
		lookup = ResolverLookup(net.DefaultResolver)
	}

	r := &Resolver{
		host:    host,
		lookup:  lookup,
		timeout: timeout,
	}

	if ip := net.ParseIP(host); ip != nil {
		r.state = stateResolved
		r.ip = ip
	}

	return r
}

// Host returns host name being resolved
func (r *Resolver) Host() string {
	return r.host
}

// Resolve calls fn with resolution result
//
// If result is already known, fn is called synchronously.
func (r *Resolver) Resolve(fn func(ip net.IP, err error)) {
	r.mu.Lock()

	switch r.state {
	case stateResolved, stateFailed:
		ip, err := r.ip, r.err
		r.mu.Unlock()

		fn(ip, err)
	case stateResolving:
		r.waiters = append(r.waiters, fn)
		r.mu.Unlock()
	default:
		r.state = stateResolving
		r.waiters = append(r.waiters, fn)
		r.mu.Unlock()

		go r.run()
	}
}

// Wait blocks until address is resolved or ctx is done
func (r *Resolver) Wait(ctx context.Context) (net.IP, error) {
	type result struct {
		ip  net.IP
		err error
	}

	ch := make(chan result, 1)

	r.Resolve(func(ip net.IP, err error) {
		ch <- result{ip, err}
	})

	select {
	case res := <-ch:
		return res.ip, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitInFlight blocks until lookup in flight (if any) completes and its
// waiters are notified, or ctx is done
//
// Unlike Wait it never starts a lookup.
func (r *Resolver) waitInFlight(ctx context.Context) {
	r.mu.Lock()
	if r.state != stateResolving {
		r.mu.Unlock()
		return
	}

	ch := make(chan struct{})
	r.waiters = append(r.waiters, func(net.IP, error) { close(ch) })
	r.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// Reset forgets failed resolution, so that next Resolve performs lookup again
//
// Resolved or in-flight state is left intact.
func (r *Resolver) Reset() {
	r.mu.Lock()
	if r.state == stateFailed {
		r.state = stateUnresolved
		r.err = nil
	}
	r.mu.Unlock()
}

// Lookups returns number of lookups performed so far
func (r *Resolver) Lookups() int64 {
	return atomic.LoadInt64(&r.lookups)
}

func (r *Resolver) run() {
	atomic.AddInt64(&r.lookups, 1)

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ip, err := r.lookup(ctx, r.host)
	if err == nil && ip == nil {
		err = ErrNoAddress
	}

	if err != nil {
		err = fmt.Errorf("resolve %q: %w", r.host, err)
		ip = nil
	}

	r.mu.Lock()
	if err != nil {
		r.state = stateFailed
	} else {
		r.state = stateResolved
	}
	r.ip, r.err = ip, err
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, fn := range waiters {
		fn(ip, err)
	}
}
