package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// lookupFunc mirrors os.LookupEnv so tests can substitute a map.
type lookupFunc func(key string) (string, bool)

// LoadEnvFiles merges env files into the process environment, earliest file
// winning among the files while real environment variables always win over
// any file entry. Missing files are skipped silently.
func LoadEnvFiles(files ...string) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			slog.Warn("Failed to load env file", "file", file, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "file", file)
	}
}

// envString overlays *dst when key is set, even to an empty string.
func envString(lookup lookupFunc, key string, dst *string) {
	if raw, ok := lookup(key); ok {
		*dst = strings.TrimSpace(raw)
	}
}

// envInt overlays *dst when key is set to a valid integer.
func envInt(lookup lookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	*dst = v
	return nil
}

// envInt64 overlays *dst when key is set to a valid integer.
func envInt64(lookup lookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	*dst = v
	return nil
}

// envFloat overlays *dst when key is set to a valid float.
func envFloat(lookup lookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, raw)
	}
	*dst = v
	return nil
}

// envBool overlays *dst when key is set. Accepted spellings follow
// strconv.ParseBool (1/0, t/f, true/false, TRUE/FALSE, ...).
func envBool(lookup lookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", key, raw)
	}
	*dst = v
	return nil
}

// envStrings overlays *dst with a comma-separated list when key is set.
// Entries are trimmed; empty entries are dropped. Setting the variable to
// an empty string clears the list.
func envStrings(lookup lookupFunc, key string, dst *[]string) {
	raw, ok := lookup(key)
	if !ok {
		return
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	*dst = values
}
