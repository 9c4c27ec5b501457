// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pharma-research/pkg/types"
)

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v, types.DefaultConfig())

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), cfg)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pharma-research.yaml")
	yaml := `
orchestrator:
  timeout: 45s
cache:
  backend: leveldb
  ttl: 2h
sources:
  openfda:
    enabled: false
  pubmed:
    requests: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	v := viper.New()
	setDefaults(v, types.DefaultConfig())
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.Timeout)
	assert.Equal(t, types.CacheLevelDB, cfg.Cache.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Sources[types.SourceOpenFDA].Enabled)
	assert.Equal(t, 10, cfg.Sources[types.SourcePubMed].Requests)
	// Keys the file leaves out keep their defaults.
	assert.Equal(t, time.Second, cfg.Sources[types.SourcePubMed].Per)
	assert.Equal(t, 5, cfg.Sources[types.SourcePubChem].Requests)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("PHARMA_RESEARCH_RETRY_MAX_RETRIES", "5")

	v := viper.New()
	setDefaults(v, types.DefaultConfig())
	v.SetEnvPrefix("PHARMA_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestReadConfigWarnsOnMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pharma-research.yaml"), []byte("cache: [unclosed\n"), 0o644))

	v := viper.New()
	v.SetConfigName("pharma-research")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	var out bytes.Buffer
	readConfig(v, &out)
	assert.Contains(t, out.String(), "warning: reading config")
}

func TestReadConfigSilentWhenNoFile(t *testing.T) {
	v := viper.New()
	v.SetConfigName("pharma-research")
	v.SetConfigType("yaml")
	v.AddConfigPath(t.TempDir())

	var out bytes.Buffer
	readConfig(v, &out)
	assert.Empty(t, out.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "pharma-research dev\n", out.String())
}
