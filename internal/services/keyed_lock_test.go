package services

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedLockSerialisesSameKey(t *testing.T) {
	locks := newKeyedLock()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a@x.com")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, peak)
	require.Zero(t, locks.size())
}

func TestKeyedLockForgetsReleasedKeys(t *testing.T) {
	locks := newKeyedLock()

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	require.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	require.Zero(t, locks.size())
}
