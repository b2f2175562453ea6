package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/windnf/windnf/internal/werr"
)

// AddRepo creates a repository, or updates it in place if name already
// exists (idempotent repo-add).
func (s *Store) AddRepo(ctx context.Context, name, baseURL, repomdURL string, typ RepoType, sourceRepoID *int64) (int64, error) {
	if typ != Binary && typ != Source {
		return 0, werr.Newf(werr.InvalidArgument, "unknown repository type %q", typ)
	}
	if sourceRepoID != nil {
		ref, err := s.GetRepoByID(ctx, *sourceRepoID)
		if err != nil {
			return 0, err
		}
		if ref == nil {
			return 0, werr.New(werr.InvalidArgument, "source-repo reference does not exist")
		}
		if ref.Type != Source {
			return 0, werr.New(werr.InvalidArgument, "source-repo reference is not a source repository")
		}
	}

	existing, err := s.GetRepo(ctx, name)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE repositories SET base_url = ?, repomd_url = ?, type = ?, source_repo_id = ? WHERE id = ?`,
			baseURL, repomdURL, string(typ), sourceRepoID, existing.ID)
		if err != nil {
			return 0, fmt.Errorf("store: update repo: %w", err)
		}
		return existing.ID, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (name, base_url, repomd_url, type, source_repo_id) VALUES (?, ?, ?, ?, ?)`,
		name, baseURL, repomdURL, string(typ), sourceRepoID)
	if err != nil {
		return 0, fmt.Errorf("store: insert repo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert repo: %w", err)
	}
	return id, nil
}

// ListRepos returns all repositories ordered by name.
func (s *Store) ListRepos(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, base_url, repomd_url, type, source_repo_id, last_updated FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list repos: %w", err)
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRepo returns the repository named name, or nil if absent.
func (s *Store) GetRepo(ctx context.Context, name string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, repomd_url, type, source_repo_id, last_updated FROM repositories WHERE name = ?`, name)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repo: %w", err)
	}
	return &r, nil
}

// GetRepoByID returns the repository with the given id, or nil if absent.
func (s *Store) GetRepoByID(ctx context.Context, id int64) (*Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, repomd_url, type, source_repo_id, last_updated FROM repositories WHERE id = ?`, id)
	r, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repo: %w", err)
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (Repository, error) {
	var r Repository
	var typ string
	var sourceRepoID sql.NullInt64
	var lastUpdated sql.NullTime
	if err := row.Scan(&r.ID, &r.Name, &r.BaseURL, &r.RepomdURL, &typ, &sourceRepoID, &lastUpdated); err != nil {
		return Repository{}, err
	}
	r.Type = RepoType(typ)
	if sourceRepoID.Valid {
		v := sourceRepoID.Int64
		r.SourceRepoID = &v
	}
	if lastUpdated.Valid {
		v := lastUpdated.Time
		r.LastUpdated = &v
	}
	return r, nil
}

// LinkSource sets bin's source_repo_id to src. bin must be a binary
// repository and src a source repository.
func (s *Store) LinkSource(ctx context.Context, bin, src string) error {
	binRepo, err := s.GetRepo(ctx, bin)
	if err != nil {
		return err
	}
	if binRepo == nil {
		return werr.Newf(werr.NotFound, "repository %q not found", bin)
	}
	srcRepo, err := s.GetRepo(ctx, src)
	if err != nil {
		return err
	}
	if srcRepo == nil {
		return werr.Newf(werr.NotFound, "repository %q not found", src)
	}
	if binRepo.Type != Binary {
		return werr.Newf(werr.InvalidArgument, "%q is not a binary repository", bin)
	}
	if srcRepo.Type != Source {
		return werr.Newf(werr.InvalidArgument, "%q is not a source repository", src)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE repositories SET source_repo_id = ? WHERE id = ?`, srcRepo.ID, binRepo.ID)
	if err != nil {
		return fmt.Errorf("store: link source: %w", err)
	}
	return nil
}

// DeleteRepo deletes the repository named name (cascading to its packages
// and their relations) and reports whether it existed.
func (s *Store) DeleteRepo(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("store: delete repo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete repo: %w", err)
	}
	return n > 0, nil
}

// WipeRepoPackages deletes all packages (and their relations, via cascade)
// belonging to repoID, without touching the repository row itself.
func (s *Store) WipeRepoPackages(ctx context.Context, repoID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE repo_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("store: wipe repo packages: %w", err)
	}
	return nil
}
