package store

import (
	"time"

	"github.com/windnf/windnf/internal/rpmver"
)

// RepoType is the closed set of repository kinds.
type RepoType string

// The two recognized repository kinds.
const (
	Binary RepoType = "binary"
	Source RepoType = "source"
)

// Repository is a named repository configuration.
type Repository struct {
	ID           int64
	Name         string
	BaseURL      string
	RepomdURL    string
	Type         RepoType
	SourceRepoID *int64
	LastUpdated  *time.Time
}

// Package is a package row together with its parsed NEVRA identity.
type Package struct {
	PkgKey        int64
	RepoID        int64
	NEVRA         rpmver.NEVRA
	Summary       string
	Description   string
	URL           string
	License       string
	Vendor        string
	Group         string
	Packager      string
	Buildhost     string
	SourceRPM     string
	SizePackage   int64
	SizeInstalled int64
	SizeArchive   int64
	LocationHref  string
	LocationBase  string
	Checksum      string
	ChecksumType  string
	HeaderStart   int64
	HeaderEnd     int64
}

// CapKind is the closed set of capability relation kinds.
type CapKind string

// The four capability relation kinds exposed to callers. Weak dependency
// tables (recommends/suggests/supplements/enhances) are folded into
// Requires rows with Weak set, per the decision recorded in SPEC_FULL.md §9.
const (
	Provides  CapKind = "provides"
	Requires  CapKind = "requires"
	Conflicts CapKind = "conflicts"
	Obsoletes CapKind = "obsoletes"
)

// Flag is a version-comparison operator attached to a capability.
type Flag string

// The five recognized comparison flags; the empty Flag means "any version
// satisfies this requirement".
const (
	FlagNone Flag = ""
	EQ       Flag = "EQ"
	LT       Flag = "LT"
	LE       Flag = "LE"
	GT       Flag = "GT"
	GE       Flag = "GE"
)

// Requirement is one row of a package's requires (or provides, when used
// generically) relation.
type Requirement struct {
	PkgKey  int64
	Name    string
	Flags   Flag
	Epoch   int
	Version string
	Release string
	Pre     bool
	Weak    bool
}

// FileEntry is one row of the per-package file index.
type FileEntry struct {
	PkgKey   int64
	Path     string
	FileType string // "file" | "dir" | "ghost"
}
