package discovery

import (
	"context"
	"errors"
	"sync"
)

// Source produces candidate host addresses for a scan.
type Source interface {
	// Candidates returns IPv4 addresses that may be devices. It returns
	// when ctx is done or the source has nothing more to report.
	Candidates(ctx context.Context) ([]string, error)
}

// StaticSource reports a fixed host list.
type StaticSource []string

// Candidates implements Source.
func (s StaticSource) Candidates(ctx context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// MultiSource queries several sources in parallel and merges their results.
// Duplicates are dropped, first-seen order is kept per source.
type MultiSource []Source

// Candidates implements Source. It fails only if every source fails.
func (m MultiSource) Candidates(ctx context.Context) ([]string, error) {
	results := make([][]string, len(m))
	errs := make([]error, len(m))

	var wg sync.WaitGroup
	for i, src := range m {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results[i], errs[i] = src.Candidates(ctx)
		}(i, src)
	}
	wg.Wait()

	var (
		out    []string
		failed int
	)
	seen := make(map[string]struct{})
	for i := range m {
		if errs[i] != nil {
			failed++
		}
		for _, host := range results[i] {
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			out = append(out, host)
		}
	}

	if len(m) > 0 && failed == len(m) {
		return out, errors.Join(errs...)
	}
	return out, nil
}
