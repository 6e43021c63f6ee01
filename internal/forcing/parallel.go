package forcing

import "sync"

const minChunk = 256

// parallelFor runs fn over [0, n) in at most workers chunks of at least
// minChunk items and returns the error of the lowest failing chunk.
func parallelFor(n, workers, minChunk int, fn func(start, end int) error) error {
	if workers <= 1 || n <= minChunk {
		return fn(0, n)
	}
	if n/minChunk < workers {
		workers = n / minChunk
	}
	chunk := (n + workers - 1) / workers

	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		go func(w, s, e int) {
			defer wg.Done()
			errs[w] = fn(s, e)
		}(w, start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
