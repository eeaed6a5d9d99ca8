package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds shelfctl's defaults, loadable from a JSONC file so comments
// and trailing commas are allowed the way the original tool's config did.
type Config struct {
	BucketCount uint64 `json:"bucket_count"`
	PageSize    uint32 `json:"page_size"`
	Codec       string `json:"codec"`
}

func defaultConfig() Config {
	return Config{BucketCount: 0, PageSize: 0, Codec: "none"}
}

// loadConfig reads a JSONC config file at path, standardizing it to plain
// JSON before unmarshaling. A missing path is not an error: defaultConfig
// is returned unchanged.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}
