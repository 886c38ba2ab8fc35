// Package config resolves a device path to a service-manager dialect,
// either from the built-in defaults or from an INI-ish config file
// decoded with mapstructure, mirroring the way the teacher keeps
// ambient configuration as a real decode step rather than ad-hoc flag
// parsing.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mjkern/gobinder/internal/constants"
)

// Dialect names one of the service-manager wire dialects a device can
// speak. It's a plain string type here (rather than the root package's
// Dialect enum) so this package never needs to import the root
// package.
type Dialect string

const (
	DialectAidl  Dialect = "aidl"
	DialectAidl2 Dialect = "aidl2"
	DialectHidl  Dialect = "hidl"
)

// DeviceConfig is one [section] of the config file, keyed by device
// path.
type DeviceConfig struct {
	Dialect Dialect `mapstructure:"dialect"`
}

// DefaultDialectFor returns the built-in dialect for a device path when
// no config file overrides it.
func DefaultDialectFor(device string) Dialect {
	if device == constants.DefaultHwBinderDevice {
		return DialectHidl
	}
	return DialectAidl
}

// ResolvePath returns explicit if set, else the GOBINDER_CONFIG
// environment variable, else "" (no config file in play).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(constants.DefaultConfigPathEnv)
}

// ParseINI parses a minimal "[section]\nkey = value" file: ';' and '#'
// start comment lines, blank lines are ignored, keys/values are
// trimmed.
func ParseINI(data []byte) (map[string]map[string]string, error) {
	sections := map[string]map[string]string{}
	current := ""
	sections[current] = map[string]string{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := sections[current]; !ok {
				sections[current] = map[string]string{}
			}
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("config: line %d: expected key = value", lineNo)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		sections[current][key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}

// Load reads and decodes a config file at path into a per-device
// dialect map. A missing or empty path is not an error: it simply
// returns an empty map, letting callers fall back to
// DefaultDialectFor.
func Load(path string) (map[string]DeviceConfig, error) {
	if path == "" {
		return map[string]DeviceConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]DeviceConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	sections, err := ParseINI(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	generic := make(map[string]any, len(sections))
	for section, kv := range sections {
		if section == "" {
			continue
		}
		entry := make(map[string]any, len(kv))
		for k, v := range kv {
			entry[k] = v
		}
		generic[section] = entry
	}

	var out map[string]DeviceConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return out, nil
}
