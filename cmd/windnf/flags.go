package main

import (
	"context"
	"flag"
	"time"

	"github.com/windnf/windnf/internal/ops"
	"github.com/windnf/windnf/internal/werr"
)

// repeatedFlag collects every occurrence of a repeatable flag, e.g.
// `--repo a --repo b`.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return "" }

func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// repoIDs resolves a list of repository names to their surrogate ids.
// An empty names list means "every repository" and resolves to nil.
func repoIDs(ctx context.Context, o *ops.Operations, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		repo, err := o.Store.GetRepo(ctx, name)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			return nil, werr.Newf(werr.NotFound, "repository %q not found", name)
		}
		ids = append(ids, repo.ID)
	}
	return ids, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs
}
