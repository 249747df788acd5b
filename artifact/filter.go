package artifact

import "github.com/bmatcuk/doublestar/v4"

// Filter applies include/exclude path globs to artifact paths. An empty
// include list admits everything; exclude always wins.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter builds a filter from glob pattern lists.
func NewFilter(include, exclude []string) *Filter {
	return &Filter{include: include, exclude: exclude}
}

// Matches reports whether the path passes the filter. Paths use forward
// slashes relative to the scan root. Malformed patterns never match.
func (f *Filter) Matches(path string) bool {
	for _, pattern := range f.exclude {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
