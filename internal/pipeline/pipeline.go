// Package pipeline implements the dependency-joined phase pipeline: one
// goroutine per package record drives that record through its eight
// phases in order, blocking on a dependency's record only at the phase
// boundary its cfg's needed_by annotation names. There is no off-the-shelf
// dataflow-graph library in play here — records joining on each other's
// phase transitions through a mutex/condition-variable state machine
// (internal/record) is the graph.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/envyerr"
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/phase"
	"github.com/charlesnicholson/envy/internal/record"
)

// OutputSink receives build-phase output lines and structured phase
// transition events for the TUI/logging collaborators to consume. Both
// methods must be safe for concurrent use; Graph calls them from every
// package's driver goroutine.
type OutputSink interface {
	Line(k key.Key, line string)
	Transition(k key.Key, p phase.Phase)
}

type nullSink struct{}

func (nullSink) Line(key.Key, string)          {}
func (nullSink) Transition(key.Key, phase.Phase) {}

// Graph is one engine run's state: a concurrent map from canonical key to
// package record, the cache handle, the cfg pool dependency actions parse
// newly-discovered cfgs into, and the collaborator bundle phase actions
// call into.
type Graph struct {
	Cache         *cache.Cache
	Pool          *cfg.Pool
	Collaborators Collaborators
	Sink          OutputSink

	mu      sync.Mutex
	records map[string]*record.Record
	started map[string]bool
}

// NewGraph constructs an empty graph ready to accept root triggers.
func NewGraph(c *cache.Cache, pool *cfg.Pool, collab Collaborators, sink OutputSink) *Graph {
	if sink == nil {
		sink = nullSink{}
	}
	return &Graph{
		Cache:         c,
		Pool:          pool,
		Collaborators: collab,
		Sink:          sink,
		records:       map[string]*record.Record{},
		started:       map[string]bool{},
	}
}

// recordFor returns the record for c's canonical key, creating it (and its
// driver goroutine) on first reference.
func (g *Graph) recordFor(c *cfg.Cfg) (*record.Record, error) {
	k, err := key.Make(c.Identity, c.SerializedOptions)
	if err != nil {
		return nil, envyerr.New(envyerr.InvalidIdentity, c.Identity, "none", err)
	}

	g.mu.Lock()
	r, ok := g.records[k.String()]
	if !ok {
		r = record.New(k, c)
		g.records[k.String()] = r
	}
	startDriver := !g.started[k.String()]
	if startDriver {
		g.started[k.String()] = true
	}
	g.mu.Unlock()

	if startDriver {
		go g.drive(r)
	}
	return r, nil
}

// Trigger requests c's record run to completion and returns the record
// immediately; the caller waits on the returned record if it needs the
// result synchronously.
func (g *Graph) Trigger(c *cfg.Cfg) (*record.Record, error) {
	r, err := g.recordFor(c)
	if err != nil {
		return nil, err
	}
	r.RequestTarget(phase.Completion)
	return r, nil
}

// Snapshot returns every record the graph has created so far, keyed by
// canonical key string. Used by the engine to assemble the final report.
func (g *Graph) Snapshot() map[string]*record.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*record.Record, len(g.records))
	for k, r := range g.records {
		out[k] = r
	}
	return out
}

// drive runs r through its phases in order until it reaches its target,
// completes, or fails. It re-checks the target after every phase so a
// dependent's RequestTarget call made mid-flight is honored without a
// second driver goroutine.
func (g *Graph) drive(r *record.Record) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Fail(fmt.Errorf("pipeline: phase action panicked: %v", rec))
			g.Sink.Transition(r.Key, phase.Failed)
		}
	}()

	ctx := context.Background()
	for {
		cur := r.Current()
		if cur == phase.Failed || cur == phase.Completion {
			return
		}

		if !cur.Before(r.Target()) {
			// Caught up to (or somehow past) the requested target with
			// more phases still ahead of us; idle until a dependent
			// asks for more.
			r.WaitForDeeperTarget(cur)
			continue
		}

		next := cur.Next()
		if err := g.runAction(ctx, r, cur); err != nil {
			if err == errSkipToDeploy {
				g.Sink.Transition(r.Key, phase.Deploy)
				continue
			}
			r.Fail(err)
			g.Sink.Transition(r.Key, phase.Failed)
			return
		}
		if !r.Advance(cur) {
			// Another goroutine already moved us (shouldn't happen: one
			// driver per record) or we failed concurrently.
			return
		}
		g.Sink.Transition(r.Key, next)

		if next == phase.Completion {
			return
		}
	}
}

// runAction dispatches to the concrete phase action for phase p.
func (g *Graph) runAction(ctx context.Context, r *record.Record, p phase.Phase) error {
	switch p {
	case phase.None:
		return g.actionRecipeFetch(ctx, r)
	case phase.RecipeFetch:
		return g.actionCheck(ctx, r)
	case phase.Check:
		return g.actionFetch(ctx, r)
	case phase.Fetch:
		return g.actionStage(ctx, r)
	case phase.Stage:
		return g.actionBuild(ctx, r)
	case phase.Build:
		return g.actionInstall(ctx, r)
	case phase.Install:
		return g.actionDeploy(ctx, r)
	case phase.Deploy:
		return g.actionCompletion(ctx, r)
	default:
		return fmt.Errorf("pipeline: no action for phase %s", p)
	}
}

// waitForDependency blocks until dep reaches the phase its cfg's
// needed_by names (or completion if absent), applying weak_ref fallback:
// if dep fails and depCfg.Weak is set, wait on the weak record instead and
// return its record so the caller resolves paths against the fallback.
func (g *Graph) waitForDependency(depCfg *cfg.Cfg) (*record.Record, error) {
	target := phase.Completion
	if depCfg.HasNeededBy {
		target = depCfg.NeededBy
	}

	dep, err := g.recordFor(depCfg)
	if err != nil {
		return nil, err
	}
	dep.RequestTarget(target)
	reached := dep.WaitUntil(target)

	if reached != phase.Failed {
		return g.resolveProductDependency(dep, depCfg)
	}

	if depCfg.Weak == nil {
		return nil, envyerr.New(envyerr.FetchError, depCfg.Identity, "none", dep.Err())
	}

	weak, err := g.recordFor(depCfg.Weak)
	if err != nil {
		return nil, err
	}
	weak.RequestTarget(target)
	weakReached := weak.WaitUntil(target)
	if weakReached == phase.Failed {
		return nil, envyerr.New(envyerr.FetchError, depCfg.Identity, "none", dep.Err())
	}
	return g.resolveProductDependency(weak, depCfg)
}

// resolveProductDependency validates a product dependency (spec.md §4.5:
// "resolution ... once the provider reaches deploy, resolve product_name to
// a path relative to the provider's asset/") by statting the resolved path.
// Validation only runs once dep has actually reached completion, since
// asset_path/result_hash are unset before that; a join that only waits for
// an earlier needed_by phase skips the check; the product path still gets
// used (and would fail loudly) wherever the dependent consumes it.
func (g *Graph) resolveProductDependency(dep *record.Record, depCfg *cfg.Cfg) (*record.Record, error) {
	if depCfg.Product == "" || dep.Current() != phase.Completion {
		return dep, nil
	}
	path := ResolveProduct(dep, depCfg)
	if _, err := os.Stat(path); err != nil {
		return nil, envyerr.New(envyerr.InvalidCfg, depCfg.Identity, "none",
			fmt.Errorf("product %q not found under provider asset: %w", depCfg.Product, err))
	}
	return dep, nil
}
