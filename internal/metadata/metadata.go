// Package metadata implements the repomd -> primary_db -> store sync
// pipeline: for one repository, it brings the store's view up to date in
// a single atomic step.
package metadata

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulikunitz/xz"

	"compress/bzip2"

	"github.com/windnf/windnf/internal/fetch"
	"github.com/windnf/windnf/internal/store"
	"github.com/windnf/windnf/internal/werr"
	"github.com/windnf/windnf/internal/wlog"
	"github.com/windnf/windnf/pkg/tmp"
)

// repomdMemoryLimit bounds the in-memory fetch of repomd.xml itself; it
// is always small.
const repomdMemoryLimit = 16 << 20

var syncDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "windnf",
		Subsystem: "metadata",
		Name:      "sync_duration_seconds",
		Help:      "Time spent syncing one repository's metadata.",
	},
	[]string{"outcome"},
)

// repomd mirrors the subset of repomd.xml this pipeline needs.
type repomd struct {
	XMLName xml.Name     `xml:"repomd"`
	Data    []repomdData `xml:"data"`
}

type repomdData struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Checksum struct {
		Value string `xml:",chardata"`
		Algo  string `xml:"type,attr"`
	} `xml:"checksum"`
}

// Pipeline drives the metadata sync algorithm for a [store.Store] using
// a [fetch.Fetcher] for transport.
type Pipeline struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher
	TmpDir  string // defaults to os.TempDir() when empty
}

// Sync brings repo's view in the store up to date: fetch repomd.xml,
// locate primary_db, stream-download with checksum verification,
// decompress, and import in one store transaction. Any failure leaves
// the store exactly as it was before Sync was called.
func (p *Pipeline) Sync(ctx context.Context, repo store.Repository) (err error) {
	start := time.Now()
	ctx = wlog.With(ctx, "repo", repo.Name)
	slog.InfoContext(ctx, "sync start")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		syncDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			slog.ErrorContext(ctx, "sync failed", "error", err)
		} else {
			slog.InfoContext(ctx, "sync complete")
		}
	}()

	repomdURL, err := resolveURL(repo.BaseURL, repo.RepomdURL)
	if err != nil {
		return werr.Wrap(werr.InvalidArgument, "resolve repomd URL", err)
	}

	body, err := p.Fetcher.DownloadToMemory(ctx, repomdURL, repomdMemoryLimit)
	if err != nil {
		return err
	}
	if looksBlocked(body) {
		return werr.New(werr.Blocked, "repomd fetch returned a non-repository response")
	}

	var rmd repomd
	if err := xml.Unmarshal(body, &rmd); err != nil {
		if looksLikeHTML(body) {
			return werr.New(werr.Blocked, "repomd fetch returned HTML instead of XML")
		}
		return werr.Wrap(werr.MetadataMissing, "parse repomd.xml", err)
	}

	var primary *repomdData
	for i := range rmd.Data {
		if rmd.Data[i].Type == "primary_db" {
			primary = &rmd.Data[i]
			break
		}
	}
	if primary == nil || primary.Location.Href == "" {
		return werr.New(werr.MetadataMissing, "repomd.xml has no primary_db entry")
	}

	artifactURL, err := resolveURL(repo.BaseURL, primary.Location.Href)
	if err != nil {
		return werr.Wrap(werr.InvalidArgument, "resolve primary_db location", err)
	}

	tmpDir := p.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	compressed, err := tmp.NewFile(tmpDir, "windnf-primary-db-*")
	if err != nil {
		return werr.Wrap(werr.Transport, "create scratch file", err)
	}
	defer compressed.Close()

	h, err := newHasher(primary.Checksum.Algo)
	if err != nil {
		return err
	}
	if err := p.Fetcher.DownloadToFile(ctx, artifactURL, compressed.Name(), h); err != nil {
		return err
	}
	digest := hex.EncodeToString(h.Sum(nil))
	want := strings.TrimSpace(primary.Checksum.Value)
	if !strings.EqualFold(digest, want) {
		return werr.Newf(werr.ChecksumMismatch, "primary_db checksum mismatch: got %s, want %s", digest, want)
	}

	snapshot, err := tmp.NewFile(tmpDir, "windnf-snapshot-*.sqlite")
	if err != nil {
		return werr.Wrap(werr.Transport, "create scratch file", err)
	}
	defer snapshot.Close()

	if err := decompress(compressed.Name(), snapshot); err != nil {
		return err
	}
	if err := validateSQLiteMagic(snapshot.Name()); err != nil {
		return err
	}

	if _, err := p.Store.ImportSnapshot(ctx, snapshot.Name(), repo.Name, time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

func resolveURL(base, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("metadata: empty URL reference")
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// looksBlocked and looksLikeHTML port the original downloader's
// challenge-page detection: a response that claims to be repository
// metadata but contains the markup of an interstitial proxy/anti-bot
// page is reported distinctly from a generic parse failure.
func looksBlocked(body []byte) bool {
	lower := bytes.ToLower(body)
	markers := [][]byte{
		[]byte("<html"),
		[]byte("captcha"),
		[]byte("access denied"),
		[]byte("checking your browser"),
	}
	for _, m := range markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype html")) ||
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html"))
}

func newHasher(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "md5":
		return md5.New(), nil
	case "sha1", "sha":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, werr.Newf(werr.MetadataMissing, "unsupported checksum algorithm %q", algo)
	}
}

// magicLen is how many leading bytes of a (possibly compressed)
// artifact are inspected to identify its compression scheme.
const magicLen = 6

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a}
)

const sqliteMagic = "SQLite format 3\x00"

func decompress(srcPath string, dst *tmp.File) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return werr.Wrap(werr.InvalidSnapshot, "open compressed artifact", err)
	}
	defer src.Close()

	head := make([]byte, magicLen)
	n, _ := src.Read(head)
	head = head[:n]
	if _, err := src.Seek(0, 0); err != nil {
		return werr.Wrap(werr.InvalidSnapshot, "seek compressed artifact", err)
	}

	var r io.Reader
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(src)
		if err != nil {
			return werr.Wrap(werr.InvalidSnapshot, "open gzip stream", err)
		}
		defer gz.Close()
		r = gz
	case bytes.HasPrefix(head, bzip2Magic):
		r = bzip2.NewReader(src)
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(src)
		if err != nil {
			return werr.Wrap(werr.InvalidSnapshot, "open xz stream", err)
		}
		r = xr
	default:
		// Not compressed at all: some mirrors publish an uncompressed
		// primary_db directly.
		r = src
	}

	buf := make([]byte, 64*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("metadata: write decompressed snapshot: %w", werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return fmt.Errorf("metadata: decompress: %w", rerr)
		}
	}
	return nil
}

func validateSQLiteMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return werr.Wrap(werr.InvalidSnapshot, "open snapshot", err)
	}
	defer f.Close()
	head := make([]byte, len(sqliteMagic))
	if _, err := f.Read(head); err != nil {
		return werr.Wrap(werr.InvalidSnapshot, "read snapshot header", err)
	}
	if string(head) != sqliteMagic {
		return werr.New(werr.InvalidSnapshot, "decompressed payload is not a SQLite database")
	}
	return nil
}
