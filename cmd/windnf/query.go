package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/windnf/windnf/internal/config"
	"github.com/windnf/windnf/internal/ops"
	"github.com/windnf/windnf/internal/resolver"
	"github.com/windnf/windnf/internal/store"
	"github.com/windnf/windnf/internal/werr"
)

func cmdSearch(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("search")
	var repos repeatedFlag
	fs.Var(&repos, "repo", "restrict to this repository (repeatable)")
	showDuplicates := fs.Bool("show-duplicates", false, "show every matching NEVRA instead of collapsing to the latest per name")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() == 0 {
		return werr.New(werr.InvalidArgument, "search requires at least one pattern")
	}
	ids, err := repoIDs(ctx, o, repos)
	if err != nil {
		return err
	}

	for _, pattern := range fs.Args() {
		res, err := o.Search(ctx, pattern, ids, *showDuplicates)
		if err != nil {
			return err
		}
		for _, p := range res.NameAndSummaryMatches {
			printPackageLine(p)
		}
		for _, p := range res.NameOnly {
			printPackageLine(p)
		}
		for _, p := range res.SummaryOnly {
			printPackageLine(p)
		}
	}
	return nil
}

func printPackageLine(p store.Package) {
	fmt.Printf("%s : %s\n", p.NEVRA.String(), p.Summary)
}

func cmdInfo(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("info")
	var repos repeatedFlag
	fs.Var(&repos, "repo", "restrict to this repository (repeatable)")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() != 1 {
		return werr.New(werr.InvalidArgument, "info requires exactly one pattern")
	}
	ids, err := repoIDs(ctx, o, repos)
	if err != nil {
		return err
	}
	pkg, err := o.Info(ctx, fs.Arg(0), ids)
	if err != nil {
		return err
	}
	if pkg == nil {
		return werr.Newf(werr.NotFound, "no package matches %q", fs.Arg(0))
	}
	fmt.Printf("Name        : %s\n", pkg.NEVRA.Name)
	fmt.Printf("NEVRA       : %s\n", pkg.NEVRA.String())
	fmt.Printf("Summary     : %s\n", pkg.Summary)
	fmt.Printf("URL         : %s\n", pkg.URL)
	fmt.Printf("License     : %s\n", pkg.License)
	fmt.Printf("Size        : %d\n", pkg.SizePackage)
	fmt.Printf("Description : %s\n", pkg.Description)
	return nil
}

func cmdResolve(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("resolve")
	var repos repeatedFlag
	fs.Var(&repos, "repo", "restrict to this repository (repeatable)")
	weak := fs.Bool("weak", false, "include weak dependencies (recommends/suggests/supplements/enhances)")
	recursive := fs.Bool("recursive", false, "resolve the full transitive closure of requirements; without it only the matched packages are returned")
	arch := fs.String("arch", "", "preferred architecture for tie-breaking")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() == 0 {
		return werr.New(werr.InvalidArgument, "resolve requires at least one pattern")
	}
	ids, err := repoIDs(ctx, o, repos)
	if err != nil {
		return err
	}

	res, err := o.Resolve(ctx, fs.Args(), false, resolver.Options{
		RepoIDs:     ids,
		Arch:        *arch,
		Recursive:   *recursive,
		IncludeWeak: *weak,
	})
	if err != nil {
		return err
	}
	for _, p := range res.Resolved {
		fmt.Println(p.NEVRA.String())
	}
	if len(res.Unsatisfied) > 0 {
		fmt.Printf("unsatisfied: %s\n", strings.Join(res.Unsatisfied, ", "))
	}
	return nil
}

func cmdDownload(ctx context.Context, o *ops.Operations, cfg config.Config, args []string) error {
	fs := newFlagSet("download")
	var repos repeatedFlag
	fs.Var(&repos, "repo", "restrict to this repository (repeatable)")
	downloadDir := fs.String("downloaddir", cfg.DownloadPath, "directory to download artifacts into")
	destDir := fs.String("destdir", "", "optional secondary directory to also copy artifacts into")
	doResolve := fs.Bool("resolve", false, "resolve targets before downloading; requirements are followed only with --recurse")
	recurse := fs.Bool("recurse", false, "resolve the full transitive closure (implies --resolve)")
	source := fs.Bool("source", false, "also download the SRPM identified by each package's sourcerpm field")
	urlsOnly := fs.Bool("urls", false, "print download URLs instead of fetching")
	arch := fs.String("arch", "", "preferred architecture for tie-breaking")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() == 0 {
		return werr.New(werr.InvalidArgument, "download requires at least one pattern")
	}
	ids, err := repoIDs(ctx, o, repos)
	if err != nil {
		return err
	}

	artifacts, unsatisfied, err := o.Download(ctx, fs.Args(), ops.DownloadOptions{
		RepoIDs:     ids,
		DownloadDir: *downloadDir,
		DestDir:     *destDir,
		Resolve:     *doResolve || *recurse,
		Recursive:   *recurse,
		Source:      *source,
		URLsOnly:    *urlsOnly,
		Arch:        *arch,
	})
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Path != "" {
			fmt.Printf("%s -> %s\n", a.NEVRA.String(), a.Path)
		} else {
			fmt.Println(a.URL)
		}
	}
	if len(unsatisfied) > 0 {
		fmt.Printf("unsatisfied: %s\n", strings.Join(unsatisfied, ", "))
	}
	return nil
}
