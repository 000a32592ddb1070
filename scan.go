package spritescan

import (
	"context"
	"sort"
	"sync"
)

// ScanStats summarises a scan
type ScanStats struct {
	// Attempted is the number of candidate offsets examined
	Attempted int
	// Accepted is the number of candidates that scored highly enough
	Accepted int
	// Rejected is the number of candidates that failed to decompress or
	// scored too low
	Rejected int
	// Overlapping is the number of accepted candidates later dropped in
	// favour of a better overlapping one
	Overlapping int
}

func (s *ScanStats) add(o ScanStats) {
	s.Attempted += o.Attempted
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Overlapping += o.Overlapping
}

// ScanResult is the outcome of a scan, possibly partial
type ScanResult struct {
	// Locations are sorted by offset and never overlap
	Locations []SpriteLocation
	Stats     ScanStats
	// Complete is false if the scan was cancelled
	Complete bool
	// NextOffset is where a cancelled scan should be resumed from. Every
	// candidate below it has been examined.
	NextOffset int

	// every accepted candidate, sorted by offset, before overlaps were
	// resolved
	candidates []SpriteLocation
}

type chunk struct {
	index int
	start int
	end   int
}

type chunkResult struct {
	chunk
	next       int
	candidates []SpriteLocation
	stats      ScanStats
}

func firstCandidate(start, from, step int) int {
	if from <= start {
		return start
	}
	// Round up to the next offset on the step grid
	return start + (from-start+step-1)/step*step
}

func makeChunks(start, end, step, size int) []chunk {
	n := size / step
	if n < 1 {
		n = 1
	}
	span := n * step

	var chunks []chunk
	for offset := start; offset < end; offset += span {
		e := offset + span
		if e > end {
			e = end
		}
		chunks = append(chunks, chunk{
			index: len(chunks),
			start: offset,
			end:   e,
		})
	}
	return chunks
}

func findChunks(ctx context.Context, chunks []chunk) <-chan chunk {
	out := make(chan chunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func chunkWorker(ctx context.Context, b []byte, cfg *ScanConfig, in <-chan chunk) <-chan chunkResult {
	out := make(chan chunkResult)
	go func() {
		defer close(out)
		for c := range in {
			r := chunkResult{
				chunk: c,
				next:  c.end,
			}
			for offset := c.start; offset < c.end; offset += cfg.Step {
				// Cancellation is only checked between candidates
				if ctx.Err() != nil {
					r.next = offset
					break
				}

				r.stats.Attempted++

				if cfg.Prefilter && uniform(b, offset) {
					r.stats.Rejected++
					continue
				}

				l, ok := attempt(b, offset, cfg)
				if !ok {
					r.stats.Rejected++
					continue
				}

				r.stats.Accepted++
				r.candidates = append(r.candidates, l)
			}
			out <- r
		}
	}()
	return out
}

func mergeResults(cs ...<-chan chunkResult) <-chan chunkResult {
	var wg sync.WaitGroup
	out := make(chan chunkResult, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan chunkResult) {
			for r := range c {
				out <- r
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// resolveOverlaps keeps the best of any overlapping candidates, preferring the
// lower offset when scores are equal. The result is sorted by offset.
func resolveOverlaps(candidates []SpriteLocation) ([]SpriteLocation, int) {
	ranked := append(candidates[:0:0], candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Quality != ranked[j].Quality {
			return ranked[i].Quality > ranked[j].Quality
		}
		return ranked[i].Offset < ranked[j].Offset
	})

	kept := make([]SpriteLocation, 0, len(ranked))
	dropped := 0
	for _, c := range ranked {
		// kept is sorted by offset and free of overlaps so only the
		// neighbours either side can clash
		i := sort.Search(len(kept), func(i int) bool { return kept[i].Offset >= c.Offset })
		if (i > 0 && kept[i-1].overlaps(c)) || (i < len(kept) && kept[i].overlaps(c)) {
			dropped++
			continue
		}
		kept = append(kept, SpriteLocation{})
		copy(kept[i+1:], kept[i:])
		kept[i] = c
	}

	return kept, dropped
}

// Scan looks for compressed sprites in rom. Candidates are split into chunks
// and examined concurrently. If ctx is cancelled the locations found so far
// are returned along with the context error, and the result records where the
// scan can be resumed from.
func Scan(ctx context.Context, rom *ROM, cfg ScanConfig) (*ScanResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := rom.Bytes()
	params := cfg.Params(len(b))
	start := firstCandidate(params.RangeStart, cfg.ResumeFrom, cfg.Step)

	result := &ScanResult{
		Complete:   true,
		NextOffset: params.RangeEnd,
	}
	if start >= params.RangeEnd {
		return result, nil
	}

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultScanConfig().ChunkSize
	}
	chunks := makeChunks(start, params.RangeEnd, cfg.Step, chunkSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := findChunks(ctx, chunks)

	workers := cfg.workers()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	outs := make([]<-chan chunkResult, 0, workers)
	for i := 0; i < workers; i++ {
		outs = append(outs, chunkWorker(ctx, b, &cfg, in))
	}

	done := make([]*chunkResult, len(chunks))
	var candidates []SpriteLocation
	for r := range mergeResults(outs...) {
		r := r
		done[r.index] = &r
		candidates = append(candidates, r.candidates...)
		result.Stats.add(r.stats)
	}

	// The resume point is the first chunk that did not run to completion
resume:
	for i, r := range done {
		switch {
		case r == nil:
			result.NextOffset = chunks[i].start
		case r.next < r.end:
			result.NextOffset = r.next
		default:
			continue
		}
		result.Complete = false
		break resume
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Offset < candidates[j].Offset
	})
	result.candidates = candidates
	result.Locations, result.Stats.Overlapping = resolveOverlaps(candidates)

	if !result.Complete {
		return result, ctx.Err()
	}

	return result, nil
}
