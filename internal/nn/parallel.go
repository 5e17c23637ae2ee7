package nn

import "golang.org/x/sync/errgroup"

// minChunk keeps goroutine overhead below the work of a chunk.
const minChunk = 4

// parallelFor runs fn over [0, n) split into contiguous chunks on at most
// workers goroutines. fn must only write state owned by its range.
func parallelFor(workers, n int, fn func(lo, hi int)) {
	if workers <= 1 || n < 2*minChunk {
		fn(0, n)
		return
	}

	chunk := max((n+workers-1)/workers, minChunk)

	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
