package filter

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"

	"xtream-resolver/work/config"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/resolver"
	"xtream-resolver/work/xtream"
)

// CompiledFilter holds the compiled include/exclude patterns per kind
type CompiledFilter struct {
	LiveInclude   *regexp.Regexp
	LiveExclude   *regexp.Regexp
	SeriesInclude *regexp.Regexp
	SeriesExclude *regexp.Regexp
	VODInclude    *regexp.Regexp
	VODExclude    *regexp.Regexp
}

// Compile builds a filter from the catalog config. Patterns are matched
// against the lowercased, trimmed item name. An invalid pattern is an error
// so a typo in the config is caught at startup.
func Compile(cfg config.CatalogConfig) (*CompiledFilter, error) {
	f := &CompiledFilter{}

	patterns := []struct {
		name    string
		pattern string
		dst     **regexp.Regexp
	}{
		{"liveIncludeRegex", cfg.LiveIncludeRegex, &f.LiveInclude},
		{"liveExcludeRegex", cfg.LiveExcludeRegex, &f.LiveExclude},
		{"seriesIncludeRegex", cfg.SeriesIncludeRegex, &f.SeriesInclude},
		{"seriesExcludeRegex", cfg.SeriesExcludeRegex, &f.SeriesExclude},
		{"vodIncludeRegex", cfg.VODIncludeRegex, &f.VODInclude},
		{"vodExcludeRegex", cfg.VODExcludeRegex, &f.VODExclude},
	}

	for _, p := range patterns {
		if p.pattern == "" {
			continue
		}
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", p.name, p.pattern, err)
		}
		*p.dst = compiled
		logger.Debug("{filter/filter - Compile} Compiled %s: '%s'", p.name, p.pattern)
	}

	return f, nil
}

// Empty reports whether no pattern is set.
func (f *CompiledFilter) Empty() bool {
	return f == nil || (f.LiveInclude == nil && f.LiveExclude == nil &&
		f.SeriesInclude == nil && f.SeriesExclude == nil &&
		f.VODInclude == nil && f.VODExclude == nil)
}

func (f *CompiledFilter) patterns(kind resolver.Kind) (include, exclude *regexp.Regexp) {
	switch kind {
	case resolver.KindLive:
		return f.LiveInclude, f.LiveExclude
	case resolver.KindSeries:
		return f.SeriesInclude, f.SeriesExclude
	case resolver.KindMovie:
		return f.VODInclude, f.VODExclude
	}
	return nil, nil
}

// Allows reports whether an item name of kind passes the filter. An include
// pattern, when set, must match; an exclude pattern must not.
func (f *CompiledFilter) Allows(kind resolver.Kind, name string) bool {
	if f == nil {
		return true
	}
	include, exclude := f.patterns(kind)
	streamName := strings.TrimSpace(strings.ToLower(name))

	if include != nil && !include.MatchString(streamName) {
		return false
	}
	if exclude != nil && exclude.MatchString(streamName) {
		return false
	}
	return true
}

// FilterItems returns the items that pass the filter, preserving order
func FilterItems(items []xtream.Item, f *CompiledFilter) []xtream.Item {
	if f.Empty() {
		return items
	}

	filtered := make([]xtream.Item, 0, len(items))
	for _, item := range items {
		if f.Allows(item.Kind, item.Name) {
			filtered = append(filtered, item)
		}
	}
	logger.Debug("{filter/filter - FilterItems} Filtered %d -> %d items", len(items), len(filtered))
	return filtered
}

// FilterCatalog applies the filter to every listing of c in place
func FilterCatalog(c *xtream.Catalog, f *CompiledFilter) {
	if c == nil || f.Empty() {
		return
	}
	for kind, items := range c.Items {
		c.Items[kind] = FilterItems(items, f)
	}
}
