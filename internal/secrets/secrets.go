// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: ncbi-api-key, openfda-api-key, redis-password.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/pkg/types"
)

const (
	NCBIAPIKey    = "ncbi-api-key"
	OpenFDAAPIKey = "openfda-api-key"
	RedisPassword = "redis-password"
)

// PubMedKeyedRequests is the NCBI E-utilities ceiling, per second, for
// requests that carry an api_key.
const PubMedKeyedRequests = 10

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory is not an error; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply copies recognized secrets into cfg. An NCBI key raises the PubMed
// ceiling to the keyed limit unless the operator configured a higher one.
func Apply(cfg *types.Config, secrets map[string]string) {
	if key := secrets[NCBIAPIKey]; key != "" {
		sc := cfg.Sources[types.SourcePubMed]
		sc.APIKey = key
		if sc.Per > 0 && float64(sc.Requests)/sc.Per.Seconds() < PubMedKeyedRequests {
			sc.Requests, sc.Per = PubMedKeyedRequests, time.Second
		}
		setSource(cfg, types.SourcePubMed, sc)
	}
	if key := secrets[OpenFDAAPIKey]; key != "" {
		sc := cfg.Sources[types.SourceOpenFDA]
		sc.APIKey = key
		setSource(cfg, types.SourceOpenFDA, sc)
	}
	if pw := secrets[RedisPassword]; pw != "" && cfg.Cache.Redis.Password == "" {
		cfg.Cache.Redis.Password = pw
	}
}

func setSource(cfg *types.Config, id types.SourceID, sc types.SourceConfig) {
	if cfg.Sources == nil {
		cfg.Sources = make(map[types.SourceID]types.SourceConfig)
	}
	cfg.Sources[id] = sc
}
