// Package sources holds the catalog of feed endpoints the poller reads from,
// grouped by category, with allow/deny filtering.
package sources

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is one feed endpoint.
type Source struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// Policy filters the registry. Deny wins over allow; an empty allow list for a
// category admits every feed in it.
type Policy struct {
	Allow         map[string][]string `yaml:"allow"`
	Deny          []string            `yaml:"deny"`
	AllowlistOnly bool                `yaml:"allowlist_only"`
}

// registryFile is the on-disk YAML shape: category → list of feed URLs.
type registryFile struct {
	Feeds  map[string][]string `yaml:"feeds"`
	Policy Policy              `yaml:"policy"`
}

// Catalog resolves categories to source lists.
type Catalog struct {
	byCategory map[string][]Source
}

// defaultFeeds is a small built-in registry used when no registry file is
// configured. Production deployments carry a much larger YAML file.
var defaultFeeds = map[string][]string{
	"international": {
		"http://feeds.bbci.co.uk/news/world/rss.xml",
		"https://www.aljazeera.com/xml/rss/all.xml",
		"https://www.theguardian.com/world/rss",
	},
	"tech": {
		"https://feeds.arstechnica.com/arstechnica/technology-lab",
		"https://www.theverge.com/rss/index.xml",
		"https://www.wired.com/feed/rss",
	},
	"finance": {
		"https://www.marketwatch.com/rss/topstories",
		"https://feeds.bloomberg.com/markets/news.rss",
	},
	"science": {
		"https://www.sciencedaily.com/rss/all.xml",
		"https://phys.org/rss-feed/",
	},
}

// Default returns the built-in catalog with no policy applied.
func Default() *Catalog {
	return build(defaultFeeds, Policy{})
}

// Load reads a YAML registry file and applies its policy. An empty path
// returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	feeds := file.Feeds
	if len(feeds) == 0 {
		feeds = defaultFeeds
	}
	return build(feeds, file.Policy), nil
}

func build(feeds map[string][]string, policy Policy) *Catalog {
	denied := make(map[string]struct{}, len(policy.Deny))
	for _, url := range policy.Deny {
		denied[strings.TrimSpace(url)] = struct{}{}
	}

	byCategory := make(map[string][]Source, len(feeds))
	for category, urls := range feeds {
		allow := make(map[string]struct{}, len(policy.Allow[category]))
		for _, url := range policy.Allow[category] {
			allow[strings.TrimSpace(url)] = struct{}{}
		}
		var kept []Source
		for _, url := range urls {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			if _, deny := denied[url]; deny {
				continue
			}
			if policy.AllowlistOnly && len(allow) > 0 {
				if _, ok := allow[url]; !ok {
					continue
				}
			}
			kept = append(kept, Source{
				ID:       sourceID(category, len(kept)),
				URL:      url,
				Category: category,
			})
		}
		if len(kept) > 0 {
			byCategory[category] = kept
		}
	}
	return &Catalog{byCategory: byCategory}
}

func sourceID(category string, n int) string {
	return fmt.Sprintf("%s-%02d", category, n)
}

// Categories lists the catalog's categories in stable order.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.byCategory))
	for cat := range c.byCategory {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Select returns sources for the requested categories, or all sources when
// categories is empty. Unknown categories are skipped.
func (c *Catalog) Select(categories []string) []Source {
	if len(categories) == 0 {
		categories = c.Categories()
	}
	var out []Source
	for _, cat := range categories {
		out = append(out, c.byCategory[strings.TrimSpace(cat)]...)
	}
	return out
}
