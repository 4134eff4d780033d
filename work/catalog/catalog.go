// Package catalog groups, searches and samples panel listings for display.
package catalog

import (
	"math/rand/v2"
	"strings"

	"xtream-resolver/work/xtream"
)

// Uncategorized names the group for items whose category the panel did not list.
const Uncategorized = "Uncategorized"

// Group is one category with its items in listing order.
type Group struct {
	CategoryID string        `json:"categoryId"`
	Name       string        `json:"name"`
	Items      []xtream.Item `json:"items"`
}

// GroupByCategory buckets items by category in a single pass. Groups follow
// the order of categories; the Uncategorized group, if any, comes last.
// Empty categories are omitted.
func GroupByCategory(items []xtream.Item, categories []xtream.Category) []Group {
	index := make(map[string]int, len(categories))
	groups := make([]Group, 0, len(categories)+1)
	for _, cat := range categories {
		id := cat.ID.String()
		if _, dup := index[id]; dup {
			continue
		}
		index[id] = len(groups)
		groups = append(groups, Group{CategoryID: id, Name: cat.Name})
	}

	var other []xtream.Item
	for _, item := range items {
		i, ok := index[item.CategoryID]
		if !ok {
			other = append(other, item)
			continue
		}
		groups[i].Items = append(groups[i].Items, item)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Items) > 0 {
			out = append(out, g)
		}
	}
	if len(other) > 0 {
		out = append(out, Group{Name: Uncategorized, Items: other})
	}
	return out
}

// Search returns the items whose name contains query, ignoring case. A blank
// query matches everything.
func Search(items []xtream.Item, query string) []xtream.Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}

	matches := make([]xtream.Item, 0)
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), q) {
			matches = append(matches, item)
		}
	}
	return matches
}

// Recommend returns up to n items picked at random. items is not modified.
func Recommend(items []xtream.Item, n int, rng *rand.Rand) []xtream.Item {
	if n <= 0 || len(items) == 0 {
		return []xtream.Item{}
	}

	shuffled := make([]xtream.Item, len(items))
	copy(shuffled, items)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
