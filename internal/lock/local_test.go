package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalSerializesSameKey(t *testing.T) {
	var l Local
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "k", 0, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, peak)
	require.Zero(t, l.size())
}

func TestLocalDistinctKeysRunConcurrently(t *testing.T) {
	var l Local
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "a", 0, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ran := false
	require.NoError(t, l.WithLock(context.Background(), "b", 0, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
	close(release)
}

func TestLocalWaiterCancelled(t *testing.T) {
	var l Local
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.WithLock(context.Background(), "k", 0, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.Zero(t, l.size())
}
