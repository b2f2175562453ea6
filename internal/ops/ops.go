// Package ops is windnf's operations façade: the thin command layer
// that translates user requests into store queries, resolver
// invocations, and fetcher calls. It is the only caller of
// internal/resolver and internal/metadata; internal/fetch is called from
// here and from internal/metadata.
package ops

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/windnf/windnf/internal/fetch"
	"github.com/windnf/windnf/internal/metadata"
	"github.com/windnf/windnf/internal/resolver"
	"github.com/windnf/windnf/internal/rpmver"
	"github.com/windnf/windnf/internal/store"
	"github.com/windnf/windnf/internal/werr"
	"github.com/windnf/windnf/internal/wlog"
)

var unsatisfiedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "windnf",
	Subsystem: "resolver",
	Name:      "unsatisfied_total",
	Help:      "Total number of capabilities the resolver could not satisfy.",
})

// Options constructs an Operations façade. DBPath is required;
// everything else defaults.
type Options struct {
	DBPath  string
	TmpDir  string
	Fetcher fetch.Options
}

// Operations holds the store and fetcher for the lifetime of one
// command invocation, replacing the original tool's module-level
// global singletons with an explicit, reference-held value.
type Operations struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher
	TmpDir  string
}

// New opens the store and constructs the fetcher described by opts.
func New(ctx context.Context, opts Options) (*Operations, error) {
	if opts.DBPath == "" {
		return nil, werr.New(werr.InvalidArgument, "ops: DBPath is required")
	}
	st, err := store.Open(ctx, opts.DBPath)
	if err != nil {
		return nil, err
	}
	f, err := fetch.New(opts.Fetcher)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Operations{Store: st, Fetcher: f, TmpDir: opts.TmpDir}, nil
}

// Close releases the façade's store handle.
func (o *Operations) Close() error {
	return o.Store.Close()
}

// RepoAdd registers or updates a repository, optionally syncing it
// immediately afterward.
func (o *Operations) RepoAdd(ctx context.Context, name, baseURL, repomdURL string, typ store.RepoType, sourceRepo string, sync bool) (int64, error) {
	if repomdURL == "" {
		repomdURL = "repodata/repomd.xml"
	}
	var sourceRepoID *int64
	if sourceRepo != "" {
		ref, err := o.Store.GetRepo(ctx, sourceRepo)
		if err != nil {
			return 0, err
		}
		if ref == nil {
			return 0, werr.Newf(werr.InvalidArgument, "source repository %q not found", sourceRepo)
		}
		sourceRepoID = &ref.ID
	}
	id, err := o.Store.AddRepo(ctx, name, baseURL, repomdURL, typ, sourceRepoID)
	if err != nil {
		return 0, err
	}
	if sync {
		repo, err := o.Store.GetRepoByID(ctx, id)
		if err != nil {
			return id, err
		}
		if err := o.syncOne(ctx, *repo); err != nil {
			return id, err
		}
	}
	return id, nil
}

// RepoLink sets bin's source repository to src.
func (o *Operations) RepoLink(ctx context.Context, bin, src string) error {
	return o.Store.LinkSource(ctx, bin, src)
}

// RepoList returns every configured repository.
func (o *Operations) RepoList(ctx context.Context) ([]store.Repository, error) {
	return o.Store.ListRepos(ctx)
}

// SyncOutcome is the result of syncing one repository.
type SyncOutcome struct {
	Repo string
	Err  error
}

// RepoSync syncs the named repositories (or all of them, when names is
// empty) one at a time: a failure is recorded for that repo and the
// sweep continues, per the façade's error-propagation policy.
func (o *Operations) RepoSync(ctx context.Context, names []string) ([]SyncOutcome, error) {
	repos, err := o.reposFor(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make([]SyncOutcome, 0, len(repos))
	for _, repo := range repos {
		err := o.syncOne(ctx, repo)
		out = append(out, SyncOutcome{Repo: repo.Name, Err: err})
		if err != nil {
			slog.ErrorContext(ctx, "repo sync failed", "repo", repo.Name, "error", err)
		}
	}
	return out, nil
}

func (o *Operations) syncOne(ctx context.Context, repo store.Repository) error {
	p := &metadata.Pipeline{Store: o.Store, Fetcher: o.Fetcher, TmpDir: o.TmpDir}
	return p.Sync(ctx, repo)
}

func (o *Operations) reposFor(ctx context.Context, names []string) ([]store.Repository, error) {
	if len(names) == 0 {
		return o.Store.ListRepos(ctx)
	}
	out := make([]store.Repository, 0, len(names))
	for _, name := range names {
		repo, err := o.Store.GetRepo(ctx, name)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			return nil, werr.Newf(werr.NotFound, "repository %q not found", name)
		}
		out = append(out, *repo)
	}
	return out, nil
}

// RepoDel deletes the named repositories (or all, when all is true),
// returning the names actually removed.
func (o *Operations) RepoDel(ctx context.Context, names []string, all bool) ([]string, error) {
	if all {
		repos, err := o.Store.ListRepos(ctx)
		if err != nil {
			return nil, err
		}
		names = names[:0]
		for _, r := range repos {
			names = append(names, r.Name)
		}
	}
	var removed []string
	for _, name := range names {
		ok, err := o.Store.DeleteRepo(ctx, name)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, name)
		}
	}
	return removed, nil
}

// SearchResult groups matches into the three buckets §6 requires:
// NameAndSummaryMatches for packages whose name and summary both hit
// pattern, NameOnly for a name-only hit, and SummaryOnly for every other
// match: a summary-only hit, or a NEVRA or glob match whose name and
// summary do not contain pattern as a substring.
type SearchResult struct {
	NameAndSummaryMatches []store.Package
	NameOnly              []store.Package
	SummaryOnly           []store.Package
}

// Search runs search_packages across repoIDs and buckets the results.
// When showDuplicates is false, only the highest NEVRA per name is
// kept in each bucket.
func (o *Operations) Search(ctx context.Context, pattern string, repoIDs []int64, showDuplicates bool) (SearchResult, error) {
	pkgs, err := o.Store.SearchPackages(ctx, pattern, repoIDs, false)
	if err != nil {
		return SearchResult{}, err
	}

	lower := strings.ToLower(pattern)
	var res SearchResult
	for _, p := range pkgs {
		nameHit := strings.Contains(strings.ToLower(p.NEVRA.Name), lower)
		summaryHit := strings.Contains(strings.ToLower(p.Summary), lower)
		switch {
		case nameHit && summaryHit:
			res.NameAndSummaryMatches = append(res.NameAndSummaryMatches, p)
		case nameHit:
			res.NameOnly = append(res.NameOnly, p)
		default:
			res.SummaryOnly = append(res.SummaryOnly, p)
		}
	}
	if !showDuplicates {
		res.NameAndSummaryMatches = collapseLatest(res.NameAndSummaryMatches)
		res.NameOnly = collapseLatest(res.NameOnly)
		res.SummaryOnly = collapseLatest(res.SummaryOnly)
	}
	return res, nil
}

// collapseLatest keeps only the highest NEVRA for each package name.
func collapseLatest(pkgs []store.Package) []store.Package {
	best := make(map[string]store.Package)
	var order []string
	for _, p := range pkgs {
		cur, ok := best[p.NEVRA.Name]
		if !ok {
			order = append(order, p.NEVRA.Name)
			best[p.NEVRA.Name] = p
			continue
		}
		if rpmver.Compare(p.NEVRA, cur.NEVRA) > 0 {
			best[p.NEVRA.Name] = p
		}
	}
	out := make([]store.Package, 0, len(order))
	for _, name := range order {
		out = append(out, best[name])
	}
	return out
}

// Info exact-searches for pattern and returns the winning candidate,
// or nil if nothing matches.
func (o *Operations) Info(ctx context.Context, pattern string, repoIDs []int64) (*store.Package, error) {
	pkgs, err := o.Store.SearchPackages(ctx, pattern, repoIDs, true)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, nil
	}
	winner := pkgs[0]
	for _, p := range pkgs[1:] {
		if rpmver.Compare(p.NEVRA, winner.NEVRA) > 0 {
			winner = p
		}
	}
	return &winner, nil
}

// Resolve runs the dependency resolver over patterns and reports any
// unsatisfied capability names via the unsatisfied_total metric.
func (o *Operations) Resolve(ctx context.Context, patterns []string, source bool, opts resolver.Options) (resolver.Result, error) {
	ctx = wlog.With(ctx, "op", "resolve")
	reqs := make([]resolver.Request, len(patterns))
	for i, p := range patterns {
		reqs[i] = resolver.Request{Pattern: p, Source: source}
	}
	r := &resolver.Resolver{Store: o.Store}
	res, err := r.Resolve(ctx, reqs, opts)
	if err != nil {
		return resolver.Result{}, err
	}
	if len(res.Unsatisfied) > 0 {
		unsatisfiedTotal.Add(float64(len(res.Unsatisfied)))
		slog.WarnContext(ctx, "unsatisfied capabilities", "names", res.Unsatisfied)
	}
	return res, nil
}

// DownloadOptions controls a download command.
type DownloadOptions struct {
	RepoIDs     []int64
	DownloadDir string
	DestDir     string
	Resolve     bool
	Recursive   bool
	IncludeWeak bool
	Source      bool
	URLsOnly    bool
	Arch        string
}

// DownloadedArtifact is one resolved download target.
type DownloadedArtifact struct {
	NEVRA rpmver.NEVRA
	URL   string
	Path  string // empty when URLsOnly
}

// Download seeds targets the same way Resolve does, then for each
// chosen package (and, if Source is set, its SRPM) either reports the
// download URL or fetches it to DownloadDir, optionally mirroring the
// artifact to DestDir as well.
func (o *Operations) Download(ctx context.Context, patterns []string, opts DownloadOptions) ([]DownloadedArtifact, []string, error) {
	resOpts := resolver.Options{
		RepoIDs:     opts.RepoIDs,
		Arch:        opts.Arch,
		Recursive:   opts.Resolve && opts.Recursive,
		IncludeWeak: opts.IncludeWeak,
	}
	result, err := o.Resolve(ctx, patterns, opts.Source, resOpts)
	if err != nil {
		return nil, nil, err
	}

	var out []DownloadedArtifact
	for _, pkg := range result.Resolved {
		art, err := o.downloadOne(ctx, pkg, opts)
		if err != nil {
			return out, result.Unsatisfied, err
		}
		out = append(out, art)

		if opts.Source && pkg.SourceRPM != "" {
			srpms, err := o.Store.SearchPackages(ctx, nevraBase(pkg.SourceRPM), opts.RepoIDs, false)
			if err != nil {
				return out, result.Unsatisfied, err
			}
			for _, s := range srpms {
				if !s.NEVRA.IsSourceKind() {
					continue
				}
				sa, err := o.downloadOne(ctx, s, opts)
				if err != nil {
					return out, result.Unsatisfied, err
				}
				out = append(out, sa)
			}
		}
	}
	return out, result.Unsatisfied, nil
}

func (o *Operations) downloadOne(ctx context.Context, pkg store.Package, opts DownloadOptions) (DownloadedArtifact, error) {
	repo, err := o.Store.GetRepoByID(ctx, pkg.RepoID)
	if err != nil {
		return DownloadedArtifact{}, err
	}
	fallbackBase := ""
	if repo != nil {
		fallbackBase = repo.BaseURL
	}
	artURL, err := artifactURL(pkg, fallbackBase)
	if err != nil {
		return DownloadedArtifact{}, err
	}
	art := DownloadedArtifact{NEVRA: pkg.NEVRA, URL: artURL}
	if opts.URLsOnly {
		return art, nil
	}

	dest := path.Join(opts.DownloadDir, path.Base(pkg.LocationHref))
	if err := o.Fetcher.DownloadToFile(ctx, artURL, dest, nil); err != nil {
		return art, err
	}
	art.Path = dest

	if opts.DestDir != "" {
		secondary := path.Join(opts.DestDir, path.Base(pkg.LocationHref))
		if err := copyFile(dest, secondary); err != nil {
			return art, werr.Wrap(werr.Transport, "copy to destdir", err)
		}
	}
	return art, nil
}

// artifactURL prefers location_base+location_href, falling back to
// the owning repository's base_url.
func artifactURL(pkg store.Package, repoBaseURL string) (string, error) {
	base := pkg.LocationBase
	if base == "" {
		base = repoBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", werr.Wrap(werr.InvalidArgument, "parse download base URL", err)
	}
	ref, err := url.Parse(pkg.LocationHref)
	if err != nil {
		return "", werr.Wrap(werr.InvalidArgument, "parse download location", err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// nevraBase strips the trailing .rpm so an sourcerpm filename can be
// matched back against the store's name-based search.
func nevraBase(sourcerpm string) string {
	n, err := rpmver.Parse(strings.TrimSuffix(sourcerpm, ".rpm"))
	if err != nil {
		return sourcerpm
	}
	return n.Name
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
