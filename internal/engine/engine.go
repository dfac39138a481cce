// Package engine is the top-level entry point: given a set of root cfgs and
// a cache, it drives every package through the phase pipeline concurrently
// and assembles a final report of successes and failures.
package engine

import (
	"golang.org/x/sync/errgroup"

	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/pipeline"
	"github.com/charlesnicholson/envy/internal/record"
)

// Result is one package's outcome, keyed by canonical key string in Run's
// return map. A failed package has an empty AssetPath/ResultHashHex and a
// non-nil Err.
type Result struct {
	AssetPath     string
	ResultHashHex string
	Err           error
}

// Run drives every root (and everything they transitively depend on) to
// completion and returns a map from canonical key string to its result.
// Packages that fail are present in the map with Err set rather than
// omitted, so callers can report on them; spec.md §6 additionally permits
// omission, but keeping every attempted package visible is more useful to
// a CLI report and doesn't change any success-path behavior.
func Run(pool *cfg.Pool, c *cache.Cache, roots []*cfg.Cfg, collab pipeline.Collaborators, sink pipeline.OutputSink) (map[string]Result, error) {
	g := pipeline.NewGraph(c, pool, collab, sink)

	rootRecs := make([]*record.Record, len(roots))
	var eg errgroup.Group
	for i, root := range roots {
		i, root := i, root
		eg.Go(func() error {
			rec, err := g.Trigger(root)
			if err != nil {
				return err
			}
			rootRecs[i] = rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, rec := range rootRecs {
		rec.WaitUntil(rec.Target())
	}

	results := make(map[string]Result)
	for k, r := range g.Snapshot() {
		if r.Failed() {
			results[k] = Result{Err: r.Err()}
			continue
		}
		var hashHex string
		if r.HasResultHash {
			hashHex = hexEncode(r.ResultHash)
		}
		results[k] = Result{AssetPath: r.AssetPath, ResultHashHex: hashHex}
	}

	return results, nil
}

func hexEncode(b [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
