package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	gocmp "github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/windnf/windnf/internal/rpmver"
	"github.com/windnf/windnf/internal/werr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "idx.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeSnapshot(t *testing.T, rows []struct{ name, version, release, arch string }, provides map[string][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
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
	`); err != nil {
		t.Fatalf("create snapshot schema: %v", err)
	}

	for _, r := range rows {
		res, err := db.Exec(`INSERT INTO packages (repo_id, name, epoch, version, release, arch, summary, location_href)
			VALUES (0, ?, 0, ?, ?, ?, ?, ?)`, r.name, r.version, r.release, r.arch, r.name+" summary", r.name+".rpm")
		if err != nil {
			t.Fatalf("insert package: %v", err)
		}
		pkgKey, _ := res.LastInsertId()
		for _, cap := range provides[r.name] {
			if _, err := db.Exec(`INSERT INTO provides (pkg_key, name) VALUES (?, ?)`, pkgKey, cap); err != nil {
				t.Fatalf("insert provides: %v", err)
			}
		}
	}
	return path
}

func TestAddRepoRejectsUnknownType(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddRepo(context.Background(), "r", "http://a/", "repomd.xml", RepoType("bogus"), nil)
	if werr.CodeOf(err) != werr.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestAddRepoRejectsDanglingSourceRef(t *testing.T) {
	s := openTestStore(t)
	missing := int64(999)
	_, err := s.AddRepo(context.Background(), "r", "http://a/", "repomd.xml", Binary, &missing)
	if werr.CodeOf(err) != werr.InvalidArgument {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestLinkSourceRequiresMatchingTypes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "bin", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddRepo(ctx, "src", "http://b/", "repomd.xml", Source, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.LinkSource(ctx, "bin", "src"); err != nil {
		t.Fatalf("LinkSource: %v", err)
	}
	repo, err := s.GetRepo(ctx, "bin")
	if err != nil || repo == nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if repo.SourceRepoID == nil || *repo.SourceRepoID != mustRepoID(t, s, "src") {
		t.Fatalf("source_repo_id = %v, want src's id", repo.SourceRepoID)
	}

	if err := s.LinkSource(ctx, "src", "bin"); werr.CodeOf(err) != werr.InvalidArgument {
		t.Fatalf("reversed LinkSource err = %v, want InvalidArgument", err)
	}
}

func mustRepoID(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	r, err := s.GetRepo(context.Background(), name)
	if err != nil || r == nil {
		t.Fatalf("GetRepo(%q): %v", name, err)
	}
	return r.ID
}

func TestDeleteRepoCascadesPackagesAndCapabilities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	snap := writeSnapshot(t, []struct{ name, version, release, arch string }{
		{"bash", "5.1", "1", "x86_64"},
	}, map[string][]string{"bash": {"/bin/sh"}})
	if _, err := s.ImportSnapshot(ctx, snap, "r", time.Now()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	pkgs, err := s.SearchPackages(ctx, "bash", nil, true)
	if err != nil || len(pkgs) != 1 {
		t.Fatalf("SearchPackages before delete: %v %v", pkgs, err)
	}
	pkgKey := pkgs[0].PkgKey

	ok, err := s.DeleteRepo(ctx, "r")
	if err != nil {
		t.Fatalf("DeleteRepo: %v", err)
	}
	if !ok {
		t.Fatal("DeleteRepo should report the repo existed")
	}

	if pkg, err := s.GetByKey(ctx, pkgKey); err != nil || pkg != nil {
		t.Fatalf("GetByKey after cascade = %+v, %v, want nil", pkg, err)
	}
	provides, err := s.ProvidesMap(ctx, nil)
	if err != nil {
		t.Fatalf("ProvidesMap: %v", err)
	}
	if _, ok := provides["/bin/sh"]; ok {
		t.Fatal("capability from deleted repo's package should be gone")
	}
	if _, ok := provides["bash"]; ok {
		t.Fatal("self-provide from deleted repo's package should be gone")
	}
}

func TestDeleteRepoReportsAbsence(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.DeleteRepo(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("DeleteRepo of an absent repo should report false")
	}
}

func TestProvidesMapIncludesImplicitSelfProvide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	snap := writeSnapshot(t, []struct{ name, version, release, arch string }{
		{"bash", "5.1", "1", "x86_64"},
	}, map[string][]string{"bash": {"/bin/sh"}})
	if _, err := s.ImportSnapshot(ctx, snap, "r", time.Now()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	provides, err := s.ProvidesMap(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	pkgs, err := s.SearchPackages(ctx, "bash", nil, true)
	if err != nil || len(pkgs) != 1 {
		t.Fatalf("SearchPackages: %v %v", pkgs, err)
	}
	pkgKey := pkgs[0].PkgKey

	for _, cap := range []string{"bash", "/bin/sh"} {
		set, ok := provides[cap]
		if !ok {
			t.Fatalf("provides[%q] missing", cap)
		}
		if _, ok := set[pkgKey]; !ok {
			t.Fatalf("provides[%q] missing pkgKey %d", cap, pkgKey)
		}
	}
}

func TestImportSnapshotIsTransactional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}

	// A snapshot lacking the required "packages" table must be rejected
	// wholesale, leaving the repo's existing contents untouched.
	badPath := filepath.Join(t.TempDir(), "bad.sqlite")
	db, err := sql.Open("sqlite", badPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE nonsense (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	before, err := s.SearchPackages(ctx, "*", nil, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ImportSnapshot(ctx, badPath, "r", time.Now()); werr.CodeOf(err) != werr.InvalidSnapshot {
		t.Fatalf("ImportSnapshot err = %v, want InvalidSnapshot", err)
	}

	after, err := s.SearchPackages(ctx, "*", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("repo contents changed after failed import: before=%d after=%d", len(before), len(after))
	}
}

func TestSearchPackagesPatternKinds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	snap := writeSnapshot(t, []struct{ name, version, release, arch string }{
		{"bash", "5.1", "1", "x86_64"},
		{"bash-completion", "1.0", "1", "noarch"},
	}, nil)
	if _, err := s.ImportSnapshot(ctx, snap, "r", time.Now()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	// Full NEVRA pattern: exact match on every present component.
	exact, err := s.SearchPackages(ctx, "bash-5.1-1.x86_64", nil, false)
	if err != nil || len(exact) != 1 {
		t.Fatalf("NEVRA search = %v, %v", exact, err)
	}
	wantNEVRA := rpmver.New("bash", 0, "5.1", "1", "x86_64")
	if !gocmp.Equal(exact[0].NEVRA, wantNEVRA) {
		t.Errorf("NEVRA search result mismatch: %s", gocmp.Diff(exact[0].NEVRA, wantNEVRA))
	}

	// Glob pattern.
	glob, err := s.SearchPackages(ctx, "bash*", nil, false)
	if err != nil || len(glob) != 2 {
		t.Fatalf("glob search = %v, %v", glob, err)
	}

	// Substring pattern.
	sub, err := s.SearchPackages(ctx, "completion", nil, false)
	if err != nil || len(sub) != 1 || sub[0].NEVRA.Name != "bash-completion" {
		t.Fatalf("substring search = %v, %v", sub, err)
	}
}

func TestImportSnapshotStampsLastUpdatedAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	repo, err := s.GetRepo(ctx, "r")
	if err != nil || repo == nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if repo.LastUpdated != nil {
		t.Fatalf("last_updated = %v before any sync, want nil", repo.LastUpdated)
	}

	snap := writeSnapshot(t, []struct{ name, version, release, arch string }{
		{"bash", "5.1", "1", "x86_64"},
	}, nil)
	syncedAt := time.Now().UTC().Truncate(time.Second)
	if _, err := s.ImportSnapshot(ctx, snap, "r", syncedAt); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	repo, err = s.GetRepo(ctx, "r")
	if err != nil || repo == nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if repo.LastUpdated == nil || !repo.LastUpdated.Equal(syncedAt) {
		t.Fatalf("last_updated = %v, want %v set in the same transaction as the import", repo.LastUpdated, syncedAt)
	}
}

func TestImportSnapshotBusyOnConcurrentTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.AddRepo(ctx, "r", "http://a/", "repomd.xml", Binary, nil); err != nil {
		t.Fatal(err)
	}
	if !s.tryLock(1) {
		t.Fatal("expected first lock to succeed")
	}
	defer s.unlock(1)
	if s.tryLock(1) {
		t.Fatal("expected second lock of the same repo id to fail")
	}
	if _, err := s.ImportSnapshot(ctx, filepath.Join(t.TempDir(), "unused.sqlite"), "r", time.Now()); werr.CodeOf(err) != werr.Busy {
		t.Fatalf("ImportSnapshot while locked err = %v, want Busy", err)
	}
}

