package domain

import (
	"sort"
	"strings"
)

// PathPlaceholder is replaced by a boundary abbreviation in artifact templates.
const PathPlaceholder = "%state%"

// RegionFilter restricts partitioning to a set of boundary abbreviations.
// A nil filter selects every boundary.
type RegionFilter map[string]struct{}

// NewRegionFilter builds a case-insensitive filter. Blank entries are ignored.
func NewRegionFilter(abbreviations ...string) RegionFilter {
	f := make(RegionFilter, len(abbreviations))
	for _, a := range abbreviations {
		a = normalizeRegion(a)
		if a == "" {
			continue
		}
		f[a] = struct{}{}
	}
	return f
}

// Contains reports whether the abbreviation is selected.
func (f RegionFilter) Contains(abbreviation string) bool {
	if f == nil {
		return true
	}
	_, ok := f[normalizeRegion(abbreviation)]
	return ok
}

// Regions returns the selected abbreviations in sorted lowercase form.
func (f RegionFilter) Regions() []string {
	out := make([]string, 0, len(f))
	for r := range f {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ArtifactPath substitutes the abbreviation into the first placeholder of template.
func ArtifactPath(template, abbreviation string) string {
	return strings.Replace(template, PathPlaceholder, abbreviation, 1)
}

// ExcludeRegions returns regions minus excluded, preserving order and
// comparing case-insensitively.
func ExcludeRegions(regions, excluded []string) []string {
	skip := NewRegionFilter(excluded...)
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if skip.Contains(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func normalizeRegion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
