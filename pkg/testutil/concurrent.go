package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "bruteguard/pkg/domain-errors"
)

// ConcurrentResult counts how the calls of one RunConcurrent ended.
type ConcurrentResult struct {
	Successes   int32
	Errors      int32
	Unavailable int32 // errors carrying CodeUnavailable
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Unavailable
}

// RunConcurrent releases n goroutines at once, each calling fn with its index,
// and waits for all of them.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg                           sync.WaitGroup
		successes, errs, unavailable atomic.Int32
		release                      = make(chan struct{})
	)

	for idx := range n {
		wg.Go(func() {
			<-release
			switch err := fn(idx); {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeUnavailable):
				unavailable.Add(1)
			default:
				errs.Add(1)
			}
		})
	}
	close(release)
	wg.Wait()

	return &ConcurrentResult{
		Successes:   successes.Load(),
		Errors:      errs.Load(),
		Unavailable: unavailable.Load(),
	}
}
