package dataset

import "sync"

// Prefetcher loads samples with background workers while preserving
// dataset order on the consuming side. It is an optimization only: with
// workers <= 1 it degrades to synchronous loading, and in all cases Next
// yields sample 0, 1, 2... of the underlying dataset.
type Prefetcher struct {
	ds        Dataset
	out       chan chan fetched
	done      chan struct{}
	next      int
	closeOnce sync.Once
}

type fetched struct {
	sample Sample
	err    error
}

// NewPrefetcher starts workers fetching samples from ds.
func NewPrefetcher(ds Dataset, workers int) *Prefetcher {
	p := &Prefetcher{ds: ds, done: make(chan struct{})}
	if workers <= 1 {
		return p
	}

	// Each sample gets a one-slot promise channel. The feeder hands the
	// promises to the consumer in index order and the jobs to workers in
	// any order, so arrival order never reorders consumption.
	depth := workers * 2
	p.out = make(chan chan fetched, depth)
	jobs := make(chan job, depth)

	go func() {
		defer close(p.out)
		defer close(jobs)
		for i := 0; i < ds.Len(); i++ {
			promise := make(chan fetched, 1)
			select {
			case p.out <- promise:
			case <-p.done:
				return
			}
			select {
			case jobs <- job{index: i, promise: promise}:
			case <-p.done:
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				s, err := ds.At(j.index)
				j.promise <- fetched{sample: s, err: err}
			}
		}()
	}
	return p
}

type job struct {
	index   int
	promise chan fetched
}

// Next returns the next sample in dataset order. ok is false once the
// dataset is exhausted.
func (p *Prefetcher) Next() (Sample, bool, error) {
	if p.out == nil {
		if p.next >= p.ds.Len() {
			return Sample{}, false, nil
		}
		s, err := p.ds.At(p.next)
		p.next++
		return s, true, err
	}

	promise, ok := <-p.out
	if !ok {
		return Sample{}, false, nil
	}
	f := <-promise
	return f.sample, true, f.err
}

// Close stops the feeder. Safe to call multiple times.
func (p *Prefetcher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
