package rpmver

import (
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
)

func TestVercmp(t *testing.T) {
	tt := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.0.1", -1},
		{"1.10", "1.9", 1},
		{"1.0~rc1", "1.0", -1},
		{"1.0^20230101", "1.0", 1},
		{"1a", "1", 1},
		{"1~", "1", -1},
		{"1.0", "1.0~rc1", 1},
		{"5.5p1", "5.5p1", 0},
		{"5.5p1", "5.5p2", -1},
		{"5.5p10", "5.5p1", 1},
		{"10xyz", "10.1xyz", -1},
		{"xyz10", "xyz10.1", -1},
		{"xyz.4", "xyz.4", 0},
		{"xyz.4", "8", -1},
		{"8", "xyz.4", 1},
	}
	for _, c := range tt {
		got := Vercmp(c.a, c.b)
		got = sign(got)
		want := sign(c.want)
		if got != want {
			t.Errorf("Vercmp(%q, %q) = %d, want %d", c.a, c.b, got, want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestParseRoundTrip(t *testing.T) {
	inputs := []string{
		"bash-5.1-1.x86_64",
		"bash-4:5.1-1.noarch",
		"glibc-2.34-100.fc36.src",
		"my-weird-name-1.2.3-4.i686",
		"kernel-0:5.14.0-1.el9.x86_64",
	}
	for _, in := range inputs {
		n, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		out := n.String()
		n2, err := Parse(out)
		if err != nil {
			t.Fatalf("Parse(%q) (round trip of %q): %v", out, in, err)
		}
		if !gocmp.Equal(n, n2) {
			t.Errorf("round trip mismatch for %q: %s", in, gocmp.Diff(n, n2))
		}
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"noseparators",
		"name-1.0",
		"name-1.0-",
		"name--1.x86_64",
		"name-1.0-1",
		"name-e:1.0-1.x86_64-",
	}
	for _, in := range bad {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", in)
		}
	}
}

func TestOrderingTotality(t *testing.T) {
	a, _ := Parse("n-1.0-1.x86_64")
	b, _ := Parse("n-2.0-1.x86_64")
	lt := Compare(a, b) < 0
	eq := Compare(a, b) == 0
	gt := Compare(a, b) > 0
	n := 0
	for _, v := range []bool{lt, eq, gt} {
		if v {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("exactly one of <,=,> must hold, got lt=%v eq=%v gt=%v", lt, eq, gt)
	}
}

func TestOrderingMonotonicVersion(t *testing.T) {
	a, _ := Parse("n-1.0-1.x86_64")
	b, _ := Parse("n-2.0-1.x86_64")
	if Compare(a, b) >= 0 {
		t.Fatalf("expected n-1.0-1 < n-2.0-1")
	}
}

func TestEpochMissingEqualsZero(t *testing.T) {
	a, err := Parse("n-1.0-1.x86_64")
	if err != nil {
		t.Fatal(err)
	}
	b := New("n", 0, "1.0", "1", "x86_64")
	if Compare(a, b) != 0 {
		t.Fatalf("missing epoch should equal explicit epoch 0")
	}
}

func TestSourceKind(t *testing.T) {
	src, _ := Parse("foo-1.0-1.src")
	nosrc, _ := Parse("foo-1.0-1.nosrc")
	bin, _ := Parse("foo-1.0-1.x86_64")
	if !src.IsSourceKind() {
		t.Error("src arch should be source kind")
	}
	if !nosrc.IsSourceKind() {
		t.Error("nosrc arch should be source kind")
	}
	if bin.IsSourceKind() {
		t.Error("x86_64 arch should not be source kind")
	}
}
