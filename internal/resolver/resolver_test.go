package resolver

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gocmp "github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/windnf/windnf/internal/store"
)

type fixturePkg struct {
	name, version, release, arch string
	provides                     []string
	requires                     []fixtureReq
}

type fixtureReq struct {
	name  string
	flags string
	epoch int
	ver   string
	rel   string
}

// buildSnapshot writes a minimal primary_db-shaped SQLite snapshot and
// imports it into st under repoName, exercising the same ImportSnapshot
// path the metadata pipeline uses in production.
func buildSnapshot(t *testing.T, st *store.Store, repoName string, pkgs []fixturePkg) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "snap.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE packages (
		pkg_key INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id INTEGER, name TEXT, epoch INTEGER, version TEXT, release TEXT, arch TEXT,
		summary TEXT, description TEXT, url TEXT, license TEXT, vendor TEXT, pkg_group TEXT,
		packager TEXT, buildhost TEXT, sourcerpm TEXT,
		size_package INTEGER, size_installed INTEGER, size_archive INTEGER,
		location_href TEXT, location_base TEXT, checksum TEXT, checksum_type TEXT,
		header_start INTEGER, header_end INTEGER
	);
	CREATE TABLE provides (pkg_key INTEGER, name TEXT, flags TEXT, epoch INTEGER, version TEXT, release TEXT);
	CREATE TABLE requires (pkg_key INTEGER, name TEXT, flags TEXT, epoch INTEGER, version TEXT, release TEXT, pre INTEGER);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create snapshot schema: %v", err)
	}

	for _, p := range pkgs {
		res, err := db.Exec(`INSERT INTO packages (repo_id, name, epoch, version, release, arch, location_href)
			VALUES (0, ?, 0, ?, ?, ?, ?)`, p.name, p.version, p.release, p.arch, p.name+".rpm")
		if err != nil {
			t.Fatalf("insert package: %v", err)
		}
		pkgKey, _ := res.LastInsertId()
		for _, prov := range p.provides {
			if _, err := db.Exec(`INSERT INTO provides (pkg_key, name) VALUES (?, ?)`, pkgKey, prov); err != nil {
				t.Fatalf("insert provides: %v", err)
			}
		}
		for _, req := range p.requires {
			if _, err := db.Exec(`INSERT INTO requires (pkg_key, name, flags, epoch, version, release, pre) VALUES (?, ?, ?, ?, ?, ?, 0)`,
				pkgKey, req.name, req.flags, req.epoch, req.ver, req.rel); err != nil {
				t.Fatalf("insert requires: %v", err)
			}
		}
	}

	if _, err := st.AddRepo(ctx, repoName, "http://example/", "repodata/repomd.xml", store.Binary, nil); err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if _, err := st.ImportSnapshot(ctx, path, repoName, time.Now()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "idx.sqlite"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestResolveImplicitSelfProvide(t *testing.T) {
	st := openTestStore(t)
	buildSnapshot(t, st, "r", []fixturePkg{
		{name: "A", version: "1", release: "1", arch: "x86_64", requires: []fixtureReq{{name: "B"}}},
		{name: "B", version: "2", release: "1", arch: "x86_64"},
	})

	res := &Resolver{Store: st}
	out, err := res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Unsatisfied) != 0 {
		t.Fatalf("unsatisfied = %v, want none", out.Unsatisfied)
	}
	got := resolvedNames(out.Resolved)
	want := []string{"A", "B"}
	if !gocmp.Equal(got, want) {
		t.Fatalf("resolved names mismatch: %s", gocmp.Diff(got, want))
	}
}

// resolvedNames returns the sorted, deduplicated set of package names in pkgs.
func resolvedNames(pkgs []store.Package) []string {
	seen := map[string]bool{}
	for _, p := range pkgs {
		seen[p.NEVRA.Name] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func TestResolveVersionConstraint(t *testing.T) {
	st := openTestStore(t)
	buildSnapshot(t, st, "r", []fixturePkg{
		{name: "A", version: "1", release: "1", arch: "x86_64", requires: []fixtureReq{{name: "B", flags: "GE", ver: "2.0", rel: ""}}},
		{name: "B", version: "1.9", release: "1", arch: "x86_64"},
		{name: "B", version: "2.1", release: "1", arch: "x86_64"},
	})

	res := &Resolver{Store: st}
	out, err := res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Unsatisfied) != 0 {
		t.Fatalf("unsatisfied = %v", out.Unsatisfied)
	}
	var gotB bool
	for _, p := range out.Resolved {
		if p.NEVRA.Name == "B" {
			gotB = true
			if p.NEVRA.Version != "2.1" {
				t.Fatalf("chose B version %q, want 2.1", p.NEVRA.Version)
			}
		}
	}
	if !gotB {
		t.Fatal("B not resolved")
	}
}

func TestResolveVersionConstraintUnsatisfied(t *testing.T) {
	st := openTestStore(t)
	buildSnapshot(t, st, "r", []fixturePkg{
		{name: "A", version: "1", release: "1", arch: "x86_64", requires: []fixtureReq{{name: "B", flags: "GE", ver: "2.0", rel: ""}}},
		{name: "B", version: "1.9", release: "1", arch: "x86_64"},
	})

	res := &Resolver{Store: st}
	out, err := res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Unsatisfied) != 1 || out.Unsatisfied[0] != "B" {
		t.Fatalf("unsatisfied = %v, want [B]", out.Unsatisfied)
	}
}

func TestResolveArchTieBreak(t *testing.T) {
	st := openTestStore(t)
	buildSnapshot(t, st, "r", []fixturePkg{
		{name: "A", version: "1", release: "1", arch: "x86_64", requires: []fixtureReq{{name: "lib"}}},
		{name: "lib", version: "1", release: "1", arch: "noarch"},
		{name: "lib", version: "1", release: "1", arch: "x86_64"},
	})

	res := &Resolver{Store: st}

	out, err := res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: true, Arch: "x86_64"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !hasArch(out.Resolved, "lib", "x86_64") {
		t.Fatalf("expected x86_64 lib chosen with arch=x86_64: %+v", out.Resolved)
	}

	out, err = res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: true, Arch: "aarch64"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !hasArch(out.Resolved, "lib", "noarch") {
		t.Fatalf("expected noarch lib chosen with arch=aarch64: %+v", out.Resolved)
	}
}

func hasArch(pkgs []store.Package, name, arch string) bool {
	for _, p := range pkgs {
		if p.NEVRA.Name == name && p.NEVRA.Arch == arch {
			return true
		}
	}
	return false
}

func TestResolveNonRecursiveSeedsOnly(t *testing.T) {
	st := openTestStore(t)
	buildSnapshot(t, st, "r", []fixturePkg{
		{name: "A", version: "1", release: "1", arch: "x86_64", requires: []fixtureReq{{name: "B"}}},
		{name: "B", version: "1", release: "1", arch: "x86_64"},
	})

	res := &Resolver{Store: st}
	out, err := res.Resolve(context.Background(), []Request{{Pattern: "A"}}, Options{Recursive: false})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := resolvedNames(out.Resolved)
	want := []string{"A"}
	if !gocmp.Equal(got, want) {
		t.Fatalf("resolved names mismatch: %s", gocmp.Diff(got, want))
	}
}
