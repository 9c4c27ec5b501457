// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/pharma-research/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  map[string]string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, NCBIAPIKey, "  ncbi_abc123  \n")
				writeFile(t, dir, OpenFDAAPIKey, "fda_xyz789")
				return dir
			},
			want: map[string]string{
				NCBIAPIKey:    "ncbi_abc123",
				OpenFDAAPIKey: "fda_xyz789",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, NCBIAPIKey, "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{NCBIAPIKey: "valid-key"},
		},
		{
			name: "skips dotfiles and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, OpenFDAAPIKey, "fda_real")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{OpenFDAAPIKey: "fda_real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t), zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission bits")
	}
	dir := t.TempDir()
	writeFile(t, dir, NCBIAPIKey, "value123")

	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "value123", got[NCBIAPIKey])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestApply(t *testing.T) {
	cfg := types.DefaultConfig()
	Apply(&cfg, map[string]string{
		NCBIAPIKey:    "ncbi",
		OpenFDAAPIKey: "fda",
		RedisPassword: "pw",
	})

	pm := cfg.Sources[types.SourcePubMed]
	assert.Equal(t, "ncbi", pm.APIKey)
	assert.Equal(t, PubMedKeyedRequests, pm.Requests)
	assert.Equal(t, time.Second, pm.Per)
	assert.Equal(t, "fda", cfg.Sources[types.SourceOpenFDA].APIKey)
	assert.Equal(t, "pw", cfg.Cache.Redis.Password)
}

func TestApplyKeepsHigherCeiling(t *testing.T) {
	cfg := types.DefaultConfig()
	sc := cfg.Sources[types.SourcePubMed]
	sc.Requests, sc.Per = 50, time.Second
	cfg.Sources[types.SourcePubMed] = sc

	Apply(&cfg, map[string]string{NCBIAPIKey: "ncbi"})
	assert.Equal(t, 50, cfg.Sources[types.SourcePubMed].Requests)
}

func TestApplyWithoutSecrets(t *testing.T) {
	cfg := types.DefaultConfig()
	Apply(&cfg, map[string]string{})
	assert.Equal(t, types.DefaultConfig(), cfg)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
