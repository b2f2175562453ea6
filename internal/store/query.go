package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/windnf/windnf/internal/rpmver"
)

const packageColumns = `pkg_key, repo_id, name, epoch, version, release, arch,
	summary, description, url, license, vendor, pkg_group, packager, buildhost, sourcerpm,
	size_package, size_installed, size_archive, location_href, location_base, checksum, checksum_type,
	header_start, header_end`

func scanPackage(row rowScanner) (Package, error) {
	var p Package
	var name, version, release, arch string
	var epoch int
	var summary, description, url, license, vendor, group, packager, buildhost, sourcerpm sql.NullString
	var sizePkg, sizeInst, sizeArc sql.NullInt64
	var locHref, locBase, checksum, checksumType sql.NullString
	var hStart, hEnd sql.NullInt64

	if err := row.Scan(
		&p.PkgKey, &p.RepoID, &name, &epoch, &version, &release, &arch,
		&summary, &description, &url, &license, &vendor, &group, &packager, &buildhost, &sourcerpm,
		&sizePkg, &sizeInst, &sizeArc, &locHref, &locBase, &checksum, &checksumType,
		&hStart, &hEnd,
	); err != nil {
		return Package{}, err
	}
	p.NEVRA = rpmver.New(name, epoch, version, release, arch)
	p.Summary = summary.String
	p.Description = description.String
	p.URL = url.String
	p.License = license.String
	p.Vendor = vendor.String
	p.Group = group.String
	p.Packager = packager.String
	p.Buildhost = buildhost.String
	p.SourceRPM = sourcerpm.String
	p.SizePackage = sizePkg.Int64
	p.SizeInstalled = sizeInst.Int64
	p.SizeArchive = sizeArc.Int64
	p.LocationHref = locHref.String
	p.LocationBase = locBase.String
	p.Checksum = checksum.String
	p.ChecksumType = checksumType.String
	p.HeaderStart = hStart.Int64
	p.HeaderEnd = hEnd.Int64
	return p, nil
}

func repoFilterClause(repoIDs []int64, args []any) (string, []any) {
	if len(repoIDs) == 0 {
		return "", args
	}
	qs := make([]string, len(repoIDs))
	for i, id := range repoIDs {
		qs[i] = "?"
		args = append(args, id)
	}
	return " AND repo_id IN (" + strings.Join(qs, ",") + ")", args
}

// GetByKey returns the package with the given surrogate key, or nil if
// absent.
func (s *Store) GetByKey(ctx context.Context, pkgKey int64) (*Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE pkg_key = ?`, pkgKey)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get by key: %w", err)
	}
	return &p, nil
}

// SearchPackages implements the three-tier pattern semantics: a pattern
// that parses as a full NEVRA is matched exactly on its present
// components; otherwise a pattern containing '*' is translated to a SQL
// LIKE; otherwise the pattern is a case-insensitive substring match
// against name or summary. When exact is true, pattern is instead matched
// as an exact, case-insensitive package name (used by the resolver to
// seed a single candidate).
func (s *Store) SearchPackages(ctx context.Context, pattern string, repoIDs []int64, exact bool) ([]Package, error) {
	if exact {
		return s.queryWhere(ctx, `name = ? COLLATE NOCASE`, []any{pattern}, repoIDs)
	}
	if n, err := rpmver.Parse(pattern); err == nil {
		cond := `name = ? AND epoch = ? AND version = ? AND release = ? AND arch = ?`
		args := []any{n.Name, n.Epoch, n.Version, n.Release, n.Arch}
		return s.queryWhere(ctx, cond, args, repoIDs)
	}
	if strings.Contains(pattern, "*") {
		like := strings.ReplaceAll(pattern, "*", "%")
		return s.queryWhere(ctx, `name LIKE ?`, []any{like}, repoIDs)
	}
	like := "%" + pattern + "%"
	return s.queryWhere(ctx, `(name LIKE ? ESCAPE '\' COLLATE NOCASE OR summary LIKE ? COLLATE NOCASE)`, []any{like, like}, repoIDs)
}

func (s *Store) queryWhere(ctx context.Context, cond string, args []any, repoIDs []int64) ([]Package, error) {
	clause, args := repoFilterClause(repoIDs, args)
	q := `SELECT ` + packageColumns + ` FROM packages WHERE ` + cond + clause + ` ORDER BY name, epoch, version, release, arch`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: search packages: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProvidesMap returns, for every capability name any package in repoIDs
// (or all repositories, if empty) provides, the set of pkgKeys supplying
// it. Every package's own name is included as an implicit self-provide.
func (s *Store) ProvidesMap(ctx context.Context, repoIDs []int64) (map[string]map[int64]struct{}, error) {
	out := make(map[string]map[int64]struct{})
	add := func(name string, pkgKey int64) {
		set, ok := out[name]
		if !ok {
			set = make(map[int64]struct{})
			out[name] = set
		}
		set[pkgKey] = struct{}{}
	}

	var args []any
	clause, args := repoFilterClause(repoIDs, args)
	nameRows, err := s.db.QueryContext(ctx, `SELECT pkg_key, name FROM packages WHERE 1=1`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("store: provides map: %w", err)
	}
	func() {
		defer nameRows.Close()
		var pkgKey int64
		var name string
		for nameRows.Next() {
			if err := nameRows.Scan(&pkgKey, &name); err != nil {
				return
			}
			add(name, pkgKey)
		}
	}()
	if err := nameRows.Err(); err != nil {
		return nil, fmt.Errorf("store: provides map: %w", err)
	}

	var pargs []any
	pclause, pargs := repoFilterClause(repoIDs, pargs)
	q := `SELECT c.pkg_key, c.name FROM capabilities c JOIN packages p ON p.pkg_key = c.pkg_key
		WHERE c.kind = 'provides'` + strings.ReplaceAll(pclause, "repo_id", "p.repo_id")
	provRows, err := s.db.QueryContext(ctx, q, pargs...)
	if err != nil {
		return nil, fmt.Errorf("store: provides map: %w", err)
	}
	defer provRows.Close()
	var pkgKey int64
	var name string
	for provRows.Next() {
		if err := provRows.Scan(&pkgKey, &name); err != nil {
			return nil, fmt.Errorf("store: provides map: %w", err)
		}
		add(name, pkgKey)
	}
	return out, provRows.Err()
}

// RequiresMap returns, for every package, its ordered list of requirement
// records (including weak dependencies, tagged via Requirement.Weak).
func (s *Store) RequiresMap(ctx context.Context) (map[int64][]Requirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pkg_key, name, flags, epoch, version, release, pre, weak FROM capabilities
		 WHERE kind = 'requires' ORDER BY pkg_key, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: requires map: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Requirement)
	for rows.Next() {
		var r Requirement
		var flags sql.NullString
		var epoch sql.NullInt64
		var version, release sql.NullString
		var pre, weak int
		if err := rows.Scan(&r.PkgKey, &r.Name, &flags, &epoch, &version, &release, &pre, &weak); err != nil {
			return nil, fmt.Errorf("store: requires map: %w", err)
		}
		r.Flags = Flag(flags.String)
		r.Epoch = int(epoch.Int64)
		r.Version = version.String
		r.Release = release.String
		r.Pre = pre != 0
		r.Weak = weak != 0
		out[r.PkgKey] = append(out[r.PkgKey], r)
	}
	return out, rows.Err()
}
