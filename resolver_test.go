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
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingLookup returns lookup which waits for release before answering
func blockingLookup(ip net.IP, err error) (LookupFunc, chan struct{}, *int64) {
	release := make(chan struct{})
	var calls int64

	return func(ctx context.Context, host string) (net.IP, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return ip, err
	}, release, &calls
}

func TestResolverCoalesces(t *testing.T) {
	lookup, release, calls := blockingLookup(net.IPv4(10, 1, 2, 3), nil)
	r := NewResolver("statsd.local", lookup, time.Second)

	const n = 10

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []int
		ips   []net.IP
	)

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		r.Resolve(func(ip net.IP, err error) {
			assert.NoError(t, err)

			mu.Lock()
			order = append(order, i)
			ips = append(ips, ip)
			mu.Unlock()

			wg.Done()
		})
	}

	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(calls))
	assert.EqualValues(t, 1, r.Lookups())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)

	for _, ip := range ips {
		assert.True(t, ip.Equal(net.IPv4(10, 1, 2, 3)))
	}

	// cached result is delivered synchronously, no new lookup
	called := false
	r.Resolve(func(ip net.IP, err error) {
		called = true
		assert.True(t, ip.Equal(net.IPv4(10, 1, 2, 3)))
	})
	assert.True(t, called)
	assert.EqualValues(t, 1, atomic.LoadInt64(calls))
}

func TestResolverFailure(t *testing.T) {
	boom := errors.New("no such host")
	lookup, release, calls := blockingLookup(nil, boom)
	close(release)

	r := NewResolver("statsd.local", lookup, time.Second)

	for i := 0; i < 3; i++ {
		_, err := r.Wait(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Contains(t, err.Error(), `"statsd.local"`)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(calls))

	r.Reset()

	_, err := r.Wait(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(calls))
}

func TestResolverResetKeepsResolved(t *testing.T) {
	lookup, release, calls := blockingLookup(net.IPv4(127, 0, 0, 1), nil)
	close(release)

	r := NewResolver("statsd.local", lookup, time.Second)

	_, err := r.Wait(context.Background())
	require.NoError(t, err)

	r.Reset()

	_, err = r.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(calls))
}

func TestResolverNilAddress(t *testing.T) {
	r := NewResolver("statsd.local", func(ctx context.Context, host string) (net.IP, error) {
		return nil, nil
	}, time.Second)

	_, err := r.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrNoAddress))
}

func TestResolverLiteralIP(t *testing.T) {
	r := NewResolver("127.0.0.1", func(ctx context.Context, host string) (net.IP, error) {
		t.Error("lookup should not be called for literal address")
		return nil, nil
	}, time.Second)

	ip, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.IPv4(127, 0, 0, 1)))
	assert.EqualValues(t, 0, r.Lookups())
}

func TestResolverTimeout(t *testing.T) {
	r := NewResolver("statsd.local", func(ctx context.Context, host string) (net.IP, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond)

	_, err := r.Wait(context.Background())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestResolverWaitCancel(t *testing.T) {
	lookup, release, _ := blockingLookup(net.IPv4(127, 0, 0, 1), nil)
	defer close(release)

	r := NewResolver("statsd.local", lookup, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Wait(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestResolverLookup(t *testing.T) {
	ip, err := ResolverLookup(net.DefaultResolver)(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())
}
