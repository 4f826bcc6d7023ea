package homepage

import (
	"errors"
	"slices"
	"strings"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// ErrNoBookmarks is returned when a file holds no importable entry.
var ErrNoBookmarks = errors.New("no valid bookmarks found in config")

// ToNewBookmarks converts the config into insert payloads for owner.
//
// The bookmark name is the title, falling back to abbr. Entries without an
// href or with an href that is not an absolute http(s) url are skipped, as
// are repeated hrefs. Order follows the file; keys inside a single YAML
// mapping are taken alphabetically.
func ToNewBookmarks(config BookmarksConfig, owner string) ([]domain.NewBookmark, error) {
	out := make([]domain.NewBookmark, 0)
	seen := make(map[string]bool)

	for _, category := range config {
		for _, categoryName := range sortedKeys(category) {
			for _, bookmarkMap := range category[categoryName] {
				for _, name := range sortedKeys(bookmarkMap) {
					entries := bookmarkMap[name]
					if len(entries) == 0 {
						continue
					}
					entry := entries[0]

					href := strings.TrimSpace(entry.Href)
					if href == "" || seen[href] {
						continue
					}

					title := strings.TrimSpace(name)
					if title == "" {
						title = strings.TrimSpace(entry.Abbr)
					}

					nb := domain.NewBookmark{URL: href, Title: title, Owner: owner}
					if nb.Validate() != nil {
						continue
					}
					seen[href] = true
					out = append(out, nb)
				}
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoBookmarks
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
