package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/windnf/windnf/internal/config"
	"github.com/windnf/windnf/internal/ops"
	"github.com/windnf/windnf/internal/store"
	"github.com/windnf/windnf/internal/werr"
)

func cmdRepoAdd(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("repo-add")
	repomd := fs.String("repomd", "", "path to repomd.xml relative to base_url")
	typ := fs.String("type", "binary", "repository type: binary|source")
	sourceRepo := fs.String("source-repo", "", "name of the source repository backing this binary repository")
	sync := fs.Bool("sync", false, "sync the repository immediately after adding it")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() != 2 {
		return werr.New(werr.InvalidArgument, "repo-add requires <name> <base_url>")
	}
	name, baseURL := fs.Arg(0), fs.Arg(1)

	var rtype store.RepoType
	switch *typ {
	case "binary":
		rtype = store.Binary
	case "source":
		rtype = store.Source
	default:
		return werr.Newf(werr.InvalidArgument, "unknown repository type %q", *typ)
	}

	id, err := o.RepoAdd(ctx, name, baseURL, *repomd, rtype, *sourceRepo, *sync)
	if err != nil {
		return err
	}
	fmt.Printf("repository %q added (id=%d)\n", name, id)
	return nil
}

func cmdRepoLink(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("repo-link")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	if fs.NArg() != 2 {
		return werr.New(werr.InvalidArgument, "repo-link requires <binary> <source>")
	}
	return o.RepoLink(ctx, fs.Arg(0), fs.Arg(1))
}

func cmdRepoList(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("repo-list")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	repos, err := o.RepoList(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "NAME\tTYPE\tBASE URL\tLAST SYNCED")
	for _, r := range repos {
		synced := "never"
		if r.LastUpdated != nil {
			synced = r.LastUpdated.Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Type, r.BaseURL, synced)
	}
	return nil
}

func cmdRepoSync(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("repo-sync")
	all := fs.Bool("all", false, "sync every configured repository")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	names := fs.Args()
	if !*all && len(names) == 0 {
		return werr.New(werr.InvalidArgument, "repo-sync requires repository names or --all")
	}
	if *all {
		names = nil
	}

	outcomes, err := o.RepoSync(ctx, names)
	if err != nil {
		return err
	}
	var failed bool
	for _, oc := range outcomes {
		if oc.Err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: %v\n", oc.Repo, oc.Err)
			continue
		}
		fmt.Printf("%s: synced\n", oc.Repo)
	}
	if failed {
		return werr.New(werr.Transport, "one or more repositories failed to sync")
	}
	return nil
}

func cmdRepoDel(ctx context.Context, o *ops.Operations, _ config.Config, args []string) error {
	fs := newFlagSet("repo-del")
	all := fs.Bool("all", false, "delete every configured repository")
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return werr.Wrap(werr.InvalidArgument, "parse flags", err)
	}
	names := fs.Args()
	if !*all && len(names) == 0 {
		return werr.New(werr.InvalidArgument, "repo-del requires repository names or --all")
	}
	prompt := fmt.Sprintf("delete %d repositories?", len(names))
	if *all {
		prompt = "delete all repositories?"
	}
	if !*force && !confirm(prompt) {
		return nil
	}
	removed, err := o.RepoDel(ctx, names, *all)
	if err != nil {
		return err
	}
	for _, name := range removed {
		fmt.Printf("%s: deleted\n", name)
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	var resp string
	fmt.Scanln(&resp)
	return resp == "y" || resp == "Y"
}
