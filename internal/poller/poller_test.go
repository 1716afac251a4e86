package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/sources"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeParser struct {
	feeds map[string]*gofeed.Feed
	errs  map[string]error
}

func (p *fakeParser) ParseURLWithContext(url string, _ context.Context) (*gofeed.Feed, error) {
	if err := p.errs[url]; err != nil {
		return nil, err
	}
	return p.feeds[url], nil
}

func feedWith(title string, items ...*gofeed.Item) *gofeed.Feed {
	return &gofeed.Feed{Title: title, Items: items}
}

func TestPollIsolatesFailingSources(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{
		feeds: map[string]*gofeed.Feed{
			"https://good.example/rss": feedWith("Good Feed", &gofeed.Item{
				Title:       "Storm hits coast",
				Link:        "https://good.example/1",
				Description: "<p>A storm made landfall.</p>",
				Published:   "Mon, 11 Aug 2025 10:00:00 GMT",
			}),
		},
		errs: map[string]error{
			"https://bad.example/rss": errors.New("connection refused"),
		},
	}

	now := time.Date(2025, 8, 11, 12, 0, 0, 0, time.UTC)
	p := NewWithParser(parser, Config{}, fakeClock{now: now}, zap.NewNop())

	results := p.Poll(context.Background(), []sources.Source{
		{ID: "intl-00", URL: "https://bad.example/rss", Category: "international"},
		{ID: "intl-01", URL: "https://good.example/rss", Category: "international"},
	})

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.Empty(t, results[0].Items)

	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Items, 1)
	item := results[1].Items[0]
	require.Equal(t, "Storm hits coast", item.Title)
	require.Equal(t, "https://good.example/1", item.Link)
	require.Equal(t, "A storm made landfall.", item.Summary, "summary HTML is cleaned")
	require.Equal(t, "Good Feed", item.Source)
	require.Equal(t, "international", item.Category)
	require.Equal(t, now, item.FetchedAt)
}

func TestPollSkipsEntriesMissingTitleOrLink(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{
		feeds: map[string]*gofeed.Feed{
			"https://feed.example/rss": feedWith("Feed",
				&gofeed.Item{Title: "", Link: "https://feed.example/1"},
				&gofeed.Item{Title: "No link here"},
				&gofeed.Item{Title: "Kept", Link: "https://feed.example/2"},
				nil,
			),
		},
	}
	p := NewWithParser(parser, Config{}, fakeClock{now: time.Unix(0, 0)}, zap.NewNop())

	results := p.Poll(context.Background(), []sources.Source{{ID: "s", URL: "https://feed.example/rss"}})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Items, 1)
	require.Equal(t, "Kept", results[0].Items[0].Title)
}

func TestPollUnknownSourceName(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{
		feeds: map[string]*gofeed.Feed{
			"https://feed.example/rss": feedWith("  ", &gofeed.Item{Title: "T", Link: "https://x/1"}),
		},
	}
	p := NewWithParser(parser, Config{}, fakeClock{now: time.Unix(0, 0)}, zap.NewNop())

	results := p.Poll(context.Background(), []sources.Source{{ID: "s", URL: "https://feed.example/rss"}})
	require.Equal(t, "Unknown Source", results[0].Items[0].Source)
}

func TestPollFallsBackToContentBlock(t *testing.T) {
	t.Parallel()

	parser := &fakeParser{
		feeds: map[string]*gofeed.Feed{
			"https://feed.example/rss": feedWith("Feed", &gofeed.Item{
				Title:   "T",
				Link:    "https://x/1",
				Content: "<div>Full text as summary</div>",
			}),
		},
	}
	p := NewWithParser(parser, Config{}, fakeClock{now: time.Unix(0, 0)}, zap.NewNop())

	results := p.Poll(context.Background(), []sources.Source{{ID: "s", URL: "https://feed.example/rss"}})
	require.Equal(t, "Full text as summary", results[0].Items[0].Summary)
}
