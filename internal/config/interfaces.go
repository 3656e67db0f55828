package config

import "context"

// SecretProvider resolves secret references (file paths, parameter names)
// into plaintext values. Keys the provider cannot find are omitted from the
// result rather than reported as errors.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
