package utils

import (
	"strings"

	"github.com/prepcli/prep/models"
)

// LookupEnv matches os.LookupEnv so tests can pass a fixture map instead of the process env.
type LookupEnv func(key string) (string, bool)

// MapEnv adapts a plain map to LookupEnv.
func MapEnv(values map[string]string) LookupEnv {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// ResolveCredentials picks the API key for a provider: flag first, then the provider's
// environment variable. Keyless providers always resolve to empty credentials.
func ResolveCredentials(provider models.ProviderID, flagKey string, lookup LookupEnv) models.Credentials {
	if !provider.RequiresKey() {
		return models.Credentials{}
	}
	if key := strings.TrimSpace(flagKey); key != "" {
		return models.Credentials{APIKey: key}
	}
	if lookup == nil {
		return models.Credentials{}
	}
	if key, ok := lookup(provider.KeyEnvVar()); ok {
		return models.Credentials{APIKey: strings.TrimSpace(key)}
	}
	return models.Credentials{}
}
