// Package resolver implements the capability-based dependency resolver:
// given a set of request patterns, it computes a closed set of packages
// satisfying all strong (and optionally weak) requirements, using
// version constraints, architecture scoring, and NEVRA tie-breaks.
//
// No teacher file implements RPM capability resolution directly (the
// teacher's own graph-traversal work is vulnerability matching, not
// provides/requires satisfaction); this package is authored from the
// specification using the teacher's general style — explicit structs,
// named result types, no exceptions — and its pattern of bounding
// concurrent fan-out with [golang.org/x/sync/errgroup], mirrored from
// libindex.Libindex.AffectedManifests.
package resolver

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/windnf/windnf/internal/rpmver"
	"github.com/windnf/windnf/internal/store"
)

// candidateFanOut bounds how many requirements of a single package are
// resolved concurrently.
const candidateFanOut = 8

// Request is one user-supplied target pattern to resolve.
type Request struct {
	Pattern string
	// Source, when true, allows this request to match a source-kind
	// (src/nosrc) NEVRA; otherwise source packages are never selected.
	Source bool
}

// Options controls a single resolution run.
type Options struct {
	RepoIDs     []int64
	Arch        string
	Recursive   bool
	IncludeWeak bool
}

// Result is the outcome of a resolution: the closed set of chosen
// packages and the capability names that could not be satisfied.
// Resolution itself never fails — see §4.5/§7 of the specification.
type Result struct {
	Resolved    []store.Package
	Unsatisfied []string
}

// Resolver runs capability-graph BFS over a [store.Store].
type Resolver struct {
	Store *store.Store
}

// Resolve computes the closed dependency set for reqs under opts.
func (r *Resolver) Resolve(ctx context.Context, reqs []Request, opts Options) (Result, error) {
	provides, err := r.Store.ProvidesMap(ctx, opts.RepoIDs)
	if err != nil {
		return Result{}, err
	}
	var requiresMap map[int64][]store.Requirement
	if opts.Recursive {
		requiresMap, err = r.Store.RequiresMap(ctx)
		if err != nil {
			return Result{}, err
		}
	}

	resolved := make(map[int64]struct{})
	var queue []int64
	unsatisfiedSet := make(map[string]struct{})

	seed := func(req Request) error {
		pkgs, err := r.Store.SearchPackages(ctx, req.Pattern, opts.RepoIDs, true)
		if err != nil {
			return err
		}
		candidates := filterCandidates(pkgs, opts.Arch, req.Source)
		winner, ok := best(candidates, opts.Arch)
		if !ok {
			unsatisfiedSet[req.Pattern] = struct{}{}
			return nil
		}
		queue = append(queue, winner.PkgKey)
		return nil
	}
	for _, req := range reqs {
		if err := seed(req); err != nil {
			return Result{}, err
		}
	}

	for len(queue) > 0 {
		pkgKey := queue[0]
		queue = queue[1:]
		if _, done := resolved[pkgKey]; done {
			continue
		}
		resolved[pkgKey] = struct{}{}

		if !opts.Recursive {
			continue
		}
		reqsForPkg := requiresMap[pkgKey]
		next, unsat, err := r.resolveRequirements(ctx, reqsForPkg, provides, opts)
		if err != nil {
			return Result{}, err
		}
		for _, cap := range unsat {
			unsatisfiedSet[cap] = struct{}{}
		}
		queue = append(queue, next...)
	}

	out := Result{Unsatisfied: sortedKeys(unsatisfiedSet)}
	for pkgKey := range resolved {
		pkg, err := r.Store.GetByKey(ctx, pkgKey)
		if err != nil {
			return Result{}, err
		}
		if pkg != nil {
			out.Resolved = append(out.Resolved, *pkg)
		}
	}
	sort.Slice(out.Resolved, func(i, j int) bool {
		return rpmver.Compare(out.Resolved[i].NEVRA, out.Resolved[j].NEVRA) < 0
	})
	return out, nil
}

// resolveRequirements resolves every requirement of one package
// concurrently (bounded fan-out), returning the pkgKeys to enqueue next
// and any capability names left unsatisfied.
func (r *Resolver) resolveRequirements(ctx context.Context, reqs []store.Requirement, provides map[string]map[int64]struct{}, opts Options) ([]int64, []string, error) {
	type outcome struct {
		pkgKey int64
		has    bool
		unsat  string
	}
	outcomes := make([]outcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(candidateFanOut)
	for i, req := range reqs {
		i, req := i, req
		if strings.HasPrefix(req.Name, "rpmlib(") {
			continue
		}
		if req.Weak && !opts.IncludeWeak {
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return context.Cause(gctx)
			default:
			}
			pkgKey, ok, err := r.resolveOne(ctx, req, provides, opts)
			if err != nil {
				return err
			}
			if ok {
				outcomes[i] = outcome{pkgKey: pkgKey, has: true}
			} else {
				outcomes[i] = outcome{unsat: req.Name}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var next []int64
	var unsat []string
	for _, o := range outcomes {
		switch {
		case o.has:
			next = append(next, o.pkgKey)
		case o.unsat != "":
			unsat = append(unsat, o.unsat)
		}
	}
	return next, unsat, nil
}

// resolveOne picks the single winning provider for one requirement, or
// reports that none exists.
func (r *Resolver) resolveOne(ctx context.Context, req store.Requirement, provides map[string]map[int64]struct{}, opts Options) (int64, bool, error) {
	keys := provides[req.Name]
	if len(keys) == 0 {
		return 0, false, nil
	}

	var candidates []store.Package
	for pkgKey := range keys {
		pkg, err := r.Store.GetByKey(ctx, pkgKey)
		if err != nil {
			return 0, false, err
		}
		if pkg == nil {
			continue
		}
		if !inRepoSet(pkg.RepoID, opts.RepoIDs) {
			continue
		}
		if pkg.NEVRA.IsSourceKind() {
			continue
		}
		if !satisfiesVersion(pkg.NEVRA, req) {
			continue
		}
		candidates = append(candidates, *pkg)
	}

	winner, ok := best(candidates, opts.Arch)
	if !ok {
		return 0, false, nil
	}
	return winner.PkgKey, true, nil
}

func inRepoSet(repoID int64, repoIDs []int64) bool {
	if len(repoIDs) == 0 {
		return true
	}
	for _, id := range repoIDs {
		if id == repoID {
			return true
		}
	}
	return false
}

// filterCandidates drops source-kind packages from seed candidates
// unless the request explicitly asked for source, per §4.5's seeding
// rule.
func filterCandidates(pkgs []store.Package, arch string, allowSource bool) []store.Package {
	var out []store.Package
	for _, p := range pkgs {
		if p.NEVRA.IsSourceKind() && !allowSource {
			continue
		}
		out = append(out, p)
	}
	return out
}

// satisfiesVersion implements §4.5.1: the requirement carries
// (flags, epoch, version, release); a candidate satisfies it iff the
// ordering of (epoch, version, release) against the requirement matches
// flags. No flags means any candidate satisfies.
func satisfiesVersion(n rpmver.NEVRA, req store.Requirement) bool {
	if req.Flags == store.FlagNone {
		return true
	}
	cand := rpmver.New("", n.Epoch, n.Version, n.Release, "")
	reqV := rpmver.New("", req.Epoch, req.Version, req.Release, "")
	if req.Release == "" {
		// empty release is treated as equal on that component
		cand.Release = ""
		reqV.Release = ""
	}
	c := rpmver.Compare(cand, reqV)
	switch req.Flags {
	case store.EQ:
		return c == 0
	case store.LT:
		return c < 0
	case store.LE:
		return c <= 0
	case store.GT:
		return c > 0
	case store.GE:
		return c >= 0
	default:
		return true
	}
}

// best implements §4.5.2's deterministic tie-break: architecture
// preference first, then higher NEVRA wins.
func best(candidates []store.Package, arch string) (store.Package, bool) {
	if len(candidates) == 0 {
		return store.Package{}, false
	}
	winner := candidates[0]
	winnerScore := archScore(winner.NEVRA.Arch, arch)
	for _, c := range candidates[1:] {
		score := archScore(c.NEVRA.Arch, arch)
		switch {
		case score > winnerScore:
			winner, winnerScore = c, score
		case score == winnerScore && rpmver.Compare(c.NEVRA, winner.NEVRA) > 0:
			winner = c
		}
	}
	return winner, true
}

// archScore implements the preference table from §4.5.2: 100 for the
// requested arch; otherwise 50 for x86_64 (only when no arch was
// requested), 40 for noarch, 10 for i686, and 0 for anything else.
func archScore(candArch, wantArch string) int {
	switch {
	case wantArch != "" && candArch == wantArch:
		return 100
	case candArch == "x86_64" && wantArch == "":
		return 50
	case candArch == "noarch":
		return 40
	case candArch == "i686":
		return 10
	default:
		return 0
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
