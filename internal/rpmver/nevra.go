// Package rpmver implements the RPM version ordering and the NEVRA package
// identity type.
//
// In one place, finally.
package rpmver

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NEVRA is the five-tuple identity of an RPM package: name, epoch, version,
// release, and architecture.
//
// The zero value is not a valid NEVRA; construct one with [Parse] or [New].
type NEVRA struct {
	Name    string
	Epoch   int
	Version string
	Release string
	Arch    string
}

// ParseError reports a NEVRA string that could not be parsed.
type ParseError struct {
	Input  string
	Reason string
}

// Error implements [error].
func (e *ParseError) Error() string {
	return fmt.Sprintf("rpmver: %q: %s", e.Input, e.Reason)
}

// New constructs a NEVRA from already-split components, as read out of a
// store row. Epoch of 0 is treated identically to an unset epoch.
func New(name string, epoch int, version, release, arch string) NEVRA {
	return NEVRA{Name: name, Epoch: epoch, Version: version, Release: release, Arch: arch}
}

// Parse parses a string of the form "name[-epoch:]version-release.arch".
//
// All of name, version, release, and arch must be non-empty; epoch, if
// present, must be digits only.
func Parse(s string) (NEVRA, error) {
	orig := s
	if strings.Count(s, "-") < 2 {
		return NEVRA{}, &ParseError{Input: orig, Reason: "missing name, version, or release separators"}
	}

	i := strings.LastIndexByte(s, '-')
	j := strings.LastIndexByte(s[:i], '-')
	name := s[:j]
	if name == "" {
		return NEVRA{}, &ParseError{Input: orig, Reason: "empty name"}
	}
	rest := s[j+1:]

	ev, release, ok := strings.Cut(rest, "-")
	if !ok {
		return NEVRA{}, &ParseError{Input: orig, Reason: "missing release"}
	}
	if release == "" {
		return NEVRA{}, &ParseError{Input: orig, Reason: "empty release"}
	}

	version := ev
	epoch := 0
	if e, v, ok := strings.Cut(ev, ":"); ok {
		if e != "" {
			n, err := strconv.Atoi(e)
			if err != nil || n < 0 {
				return NEVRA{}, &ParseError{Input: orig, Reason: "epoch must be non-negative digits"}
			}
			epoch = n
		}
		version = v
	}
	if version == "" {
		return NEVRA{}, &ParseError{Input: orig, Reason: "empty version"}
	}

	idx := strings.LastIndexByte(release, '.')
	if idx == -1 {
		return NEVRA{}, &ParseError{Input: orig, Reason: "missing architecture"}
	}
	arch := release[idx+1:]
	if arch == "" {
		return NEVRA{}, &ParseError{Input: orig, Reason: "empty architecture"}
	}
	release = release[:idx]
	if release == "" {
		return NEVRA{}, &ParseError{Input: orig, Reason: "empty release"}
	}

	return NEVRA{Name: name, Epoch: epoch, Version: version, Release: release, Arch: arch}, nil
}

// String renders the canonical "name-[epoch:]version-release.arch" form.
func (n NEVRA) String() string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteByte('-')
	if n.Epoch != 0 {
		b.WriteString(strconv.Itoa(n.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(n.Version)
	b.WriteByte('-')
	b.WriteString(n.Release)
	b.WriteByte('.')
	b.WriteString(n.Arch)
	return b.String()
}

// NVR renders "name-version-release", omitting epoch and architecture.
func (n NEVRA) NVR() string {
	return n.Name + "-" + n.Version + "-" + n.Release
}

// EVR renders the "[epoch:]version-release" component alone.
func (n NEVRA) EVR() string {
	var b strings.Builder
	if n.Epoch != 0 {
		b.WriteString(strconv.Itoa(n.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(n.Version)
	b.WriteByte('-')
	b.WriteString(n.Release)
	return b.String()
}

// IsSourceKind reports whether the architecture marks this NEVRA as a source
// package. This affects only resolver selection policy, not ordering.
func (n NEVRA) IsSourceKind() bool {
	return n.Arch == "src" || n.Arch == "nosrc"
}

// Compare orders two NEVRAs: lexicographic on name, numeric on epoch
// (missing treated as 0), rpmvercmp on version, rpmvercmp on release,
// lexicographic on architecture.
func Compare(a, b NEVRA) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return -1
		}
		return 1
	}
	if c := Vercmp(a.Version, b.Version); c != 0 {
		return c
	}
	if c := Vercmp(a.Release, b.Release); c != 0 {
		return c
	}
	return strings.Compare(a.Arch, b.Arch)
}

// Vercmp compares RPM version (or release) strings.
//
// This is a port of the C version at
// https://github.com/rpm-software-management/rpm/blob/572844039a04846fe9e030cbacb6336e2240bd6f/rpmio/rpmvercmp.cc
//
//	 1: a is newer than b
//	 0: a and b are the same version
//	-1: b is newer than a
func Vercmp(a, b string) int {
	if a == b {
		return 0
	}

	for {
		a = strings.TrimLeftFunc(a, rpmSeparatorTrim)
		b = strings.TrimLeftFunc(b, rpmSeparatorTrim)

		// Tilde sorts before everything, including the empty string.
		switch {
		case strings.HasPrefix(a, "~") && strings.HasPrefix(b, "~"):
			a = a[1:]
			b = b[1:]
			continue
		case strings.HasPrefix(a, "~"):
			return -1
		case strings.HasPrefix(b, "~"):
			return 1
		}

		// Caret sorts before everything except the end of string.
		switch {
		case strings.HasPrefix(a, "^") && strings.HasPrefix(b, "^"):
			a = a[1:]
			b = b[1:]
			continue
		case a == "" && strings.HasPrefix(b, "^"):
			return -1
		case strings.HasPrefix(a, "^") && b == "":
			return 1
		case strings.HasPrefix(a, "^"):
			return -1
		case strings.HasPrefix(b, "^"):
			return 1
		}

		if a == "" || b == "" {
			break
		}

		r, _ := utf8.DecodeRuneInString(a)
		isnum := isDigit(r)
		var aSeg, bSeg string
		if isnum {
			aSeg, a = splitFunc(a, isDigit)
			bSeg, b = splitFunc(b, isDigit)
		} else {
			aSeg, a = splitFunc(a, isAlpha)
			bSeg, b = splitFunc(b, isAlpha)
		}

		switch {
		case aSeg == "":
			return -1
		case bSeg == "" && !isnum:
			return -1
		case bSeg == "" && isnum:
			return 1
		}

		if isnum {
			aSeg = strings.TrimLeft(aSeg, "0")
			bSeg = strings.TrimLeft(bSeg, "0")
			switch {
			case len(aSeg) > len(bSeg):
				return 1
			case len(aSeg) < len(bSeg):
				return -1
			}
		}

		if c := strings.Compare(aSeg, bSeg); c != 0 {
			return c
		}
	}

	switch {
	case a == "" && b == "":
		return 0
	case a != "":
		return 1
	default:
		return -1
	}
}

func rpmSeparatorTrim(r rune) bool {
	return !isAlnum(r) && r != '~' && r != '^'
}

func splitFunc(s string, f func(rune) bool) (string, string) {
	i := strings.IndexFunc(s, func(r rune) bool { return !f(r) })
	if i == -1 {
		return s, ""
	}
	return s[:i], s[i:]
}

func isAlpha(r rune) bool { return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' }

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isAlnum(r rune) bool { return isAlpha(r) || isDigit(r) }
