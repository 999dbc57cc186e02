// Package wdibenv resolves the device ID and typed environment knobs WDIB
// reads at startup, following a fixed precedence chain: explicit env var ->
// .env file -> .device_id file -> generate and persist.
package wdibenv

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/LucPettett/what-do-i-become/internal/wdibpath"
)

// LoadDotenv loads envFile into the process environment if present. A
// missing .env file is not an error — most deployments configure purely
// through real environment variables.
func LoadDotenv(envFile string) error {
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(envFile)
}

// Bool parses a boolean-ish environment variable, defaulting when unset or
// unparsable. Accepts 1/0, true/false, yes/no, on/off (case-insensitive).
func Bool(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Int parses an integer environment variable, defaulting when unset or
// unparsable.
func Int(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

// normalizeUUID lowercases and validates a candidate device ID string,
// returning "" if it isn't a well-formed UUID.
func normalizeUUID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// ResolveDeviceID implements the precedence chain: WDIB_DEVICE_ID env var,
// then the .device_id file, else a freshly generated UUID persisted to the
// .device_id file so subsequent ticks are stable.
func ResolveDeviceID(paths wdibpath.Paths) (string, error) {
	if fromEnv := normalizeUUID(os.Getenv("WDIB_DEVICE_ID")); fromEnv != "" {
		return fromEnv, nil
	}

	if fromFile, err := readDeviceIDFile(paths.DeviceIDFile); err != nil {
		return "", err
	} else if fromFile != "" {
		return fromFile, nil
	}

	generated := uuid.NewString()
	if err := writeDeviceIDFile(paths.DeviceIDFile, generated); err != nil {
		return "", fmt.Errorf("persisting generated device id: %w", err)
	}
	return generated, nil
}

func readDeviceIDFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := normalizeUUID(scanner.Text()); id != "" {
			return id, nil
		}
	}
	return "", scanner.Err()
}

func writeDeviceIDFile(path, deviceID string) error {
	return os.WriteFile(path, []byte(deviceID+"\n"), 0o644)
}
