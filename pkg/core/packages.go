package core

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed packages.txt
var vanillaPackages string

// PackageSet is an immutable, case-insensitive set of file names.
type PackageSet struct {
	names map[string]struct{}
}

// NewPackageSet builds a set from the given file names.
func NewPackageSet(names ...string) *PackageSet {
	s := &PackageSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[strings.ToLower(n)] = struct{}{}
	}
	return s
}

// DefaultPackageSet returns the files shipped with the base game.
func DefaultPackageSet() *PackageSet {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(vanillaPackages))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return NewPackageSet(names...)
}

// Contains reports whether name (a base file name) is in the set.
func (s *PackageSet) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.names[strings.ToLower(name)]
	return ok
}

// Len returns the number of names in the set.
func (s *PackageSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}
