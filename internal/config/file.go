package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FileLookup loads a YAML config file and exposes it as a LookupFunc.
// Nested keys map onto environment names: ai.api_key -> QUERYPILOT_AI_API_KEY.
func FileLookup(path string) (LookupFunc, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file %q: %w", path, err)
	}

	values := make(map[string]string, len(k.Keys()))
	for key, value := range k.All() {
		if value == nil {
			continue
		}
		values[envKey(key)] = fmt.Sprint(value)
	}
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil
}

// ChainLookup returns the first hit across lookups, in order.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

func envKey(path string) string {
	key := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(path))
	return envPrefix + key
}
