package envconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidValue is wrapped by every error caused by an unparsable variable.
var ErrInvalidValue = errors.New("invalid environment value")

// Snapshot is an immutable copy of the environment that resolution reads from.
// Keeping resolution on a snapshot means nothing below cmd/ or the harness
// touches process state.
type Snapshot map[string]string

// Environ snapshots the current process environment.
func Environ() Snapshot {
	return FromEnviron(os.Environ())
}

// FromEnviron builds a snapshot from KEY=VALUE pairs as returned by os.Environ.
func FromEnviron(environ []string) Snapshot {
	s := make(Snapshot, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		s[key] = value
	}
	return s
}

// WithDotEnv returns a copy of s extended with the variables from the given
// dotenv files. Variables already present in s win, matching godotenv.Load.
// Missing files are skipped.
func (s Snapshot) WithDotEnv(files ...string) (Snapshot, error) {
	merged := s.Clone()
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for key, value := range values {
			if _, exists := merged[key]; !exists {
				merged[key] = value
			}
		}
	}
	return merged, nil
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Lookup reports the value of key and whether it is set to a non-empty value.
func (s Snapshot) Lookup(key string) (string, bool) {
	value, exists := s[key]
	if !exists || value == "" {
		return "", false
	}
	return value, true
}

func (s Snapshot) getOrDefault(key, defaultValue string) string {
	if value, ok := s.Lookup(key); ok {
		return value
	}
	return defaultValue
}

func (s Snapshot) getIntOrDefault(key string, defaultValue int) (int, error) {
	value, ok := s.Lookup(key)
	if !ok {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, key, value)
	}
	return i, nil
}

func (s Snapshot) getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := s.Lookup(key)
	if !ok {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidValue, key, value)
	}
	return d, nil
}
