// Package parallel chunks CPU kernel loops across goroutines. The
// kernels run inside request handlers, so chunking stays conservative:
// small loops run inline and one kernel never uses more workers than
// the scheduler has to offer.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a loop is divided.
type Config struct {
	Enabled      bool
	NumWorkers   int
	MinChunkSize int // Loops below this run inline.
}

// DefaultConfig sizes workers to the scheduler rather than the machine;
// a serving process may be capped below the physical CPU count.
func DefaultConfig() Config {
	n := runtime.GOMAXPROCS(0)
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// For executes f(i) for i in [0, n). Loops below MinChunkSize run
// inline; larger ones split into contiguous chunks, and the final chunk
// runs on the calling goroutine.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := cfg.NumWorkers
	if workers < 1 {
		workers = 1
	}
	chunk := (n + workers - 1) / workers
	if chunk < cfg.MinChunkSize {
		chunk = cfg.MinChunkSize
	}

	var wg sync.WaitGroup
	start := 0
	for ; start+chunk < n; start += chunk {
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, start+chunk)
	}
	for i := start; i < n; i++ {
		f(i)
	}
	wg.Wait()
}

// ForBatch iterates a batch*channels grid, the loop shape of the conv
// and pooling kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
