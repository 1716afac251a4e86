package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogSelect(t *testing.T) {
	t.Parallel()

	cat := Default()
	require.Contains(t, cat.Categories(), "tech")

	tech := cat.Select([]string{"tech"})
	require.NotEmpty(t, tech)
	for _, s := range tech {
		require.Equal(t, "tech", s.Category)
		require.NotEmpty(t, s.URL)
		require.NotEmpty(t, s.ID)
	}

	all := cat.Select(nil)
	require.Greater(t, len(all), len(tech))
}

func TestSelectUnknownCategory(t *testing.T) {
	t.Parallel()

	require.Empty(t, Default().Select([]string{"nonexistent"}))
}

func TestLoadRegistryWithPolicy(t *testing.T) {
	t.Parallel()

	registry := `
feeds:
  tech:
    - https://a.example/rss
    - https://b.example/rss
    - https://c.example/rss
policy:
  allowlist_only: true
  allow:
    tech:
      - https://a.example/rss
      - https://b.example/rss
  deny:
    - https://b.example/rss
`
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))

	cat, err := Load(path)
	require.NoError(t, err)

	tech := cat.Select([]string{"tech"})
	require.Len(t, tech, 1, "deny wins over allow, allowlist_only drops the rest")
	require.Equal(t, "https://a.example/rss", tech[0].URL)
}

func TestLoadEmptyPathFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cat, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, cat.Categories())
}

func TestLoadBadFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
