package config

import (
	"strings"

	"github.com/knadh/koanf/providers/structs"
)

// structDefaultsProvider exposes a populated Config's own field values as
// a koanf provider, so Load can layer the file and environment
// providers on top of them in one pass.
func structDefaultsProvider(cfg Config) *structs.Structs {
	return structs.ProviderWithDelim(cfg, "koanf", ".")
}

// envKeyToKoanf turns KEEPER_METADATA_TABLE_NAME into metadata_table_name,
// matching the snake_case koanf tags on Config.
func envKeyToKoanf(key string) string {
	trimmed := strings.TrimPrefix(key, "KEEPER_")
	return strings.ToLower(trimmed)
}
