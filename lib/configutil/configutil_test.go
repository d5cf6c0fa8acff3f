package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type nested struct {
	Url      string `json:"url" env:"TEST_PANELWATCH_URL"`
	Interval int    `json:"interval"`
}

type testConfig struct {
	Name   string `json:"name"`
	Nested nested `json:"nested"`
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.json5"), `{
		// comments are allowed
		name: "base",
		nested: { url: "https://a.example", interval: 10 },
	}`)
	writeFile(t, filepath.Join(dir, "app.local.json5"), `{ nested: { interval: 30 } }`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "app.json5"))
	require.NoError(t, err)
	require.Equal(t, "base", cfg.Name)
	require.Equal(t, "https://a.example", cfg.Nested.Url)
	require.Equal(t, 30, cfg.Nested.Interval)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "missing.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadWithDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.json5"), `{ name: "from-file" }`)

	defaults := testConfig{
		Name:   "default",
		Nested: nested{Url: "https://default.example", Interval: 5},
	}

	t.Setenv("TEST_PANELWATCH_URL", "https://env.example")

	cfg, err := ReadWithDefaults(filepath.Join(dir, "app.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Name)
	require.Equal(t, 5, cfg.Nested.Interval)
	require.Equal(t, "https://env.example", cfg.Nested.Url)

	cfg, err = ReadWithDefaults(filepath.Join(dir, "none.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Name)
}
