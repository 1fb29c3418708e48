// Package engine implements the facade vtable described in spec.md section
// 5: a single coarse cache lock serializing every cache.Store operation,
// plus the ENGINE_* result-code mapping and the key=value configuration
// parser, modeled on the option set in spec.md section 6 and the
// initalize_configuration defaults in original_source's
// plugin/slab/slab_engine.c.
package engine

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/facebookgo/stackerr"
)

// Config holds the slab/LRU engine's startup options, populated from the
// "key=value;key=value" string the host passes to Initialize (spec.md
// section 6).
type Config struct {
	UseCas      bool
	Verbose     uint
	Eviction    bool
	CacheSize   int64
	Preallocate bool
	Factor      float64
	ChunkSize   int
}

// DefaultConfig mirrors initalize_configuration's defaults in
// original_source/plugin/slab/slab_engine.c.
func DefaultConfig() Config {
	return Config{
		UseCas:      true,
		Verbose:     0,
		Eviction:    true,
		CacheSize:   64 * 1024 * 1024,
		Preallocate: false,
		Factor:      1.25,
		ChunkSize:   48,
	}
}

// ParseConfig starts from DefaultConfig and applies str, a ";"-separated
// list of "key=value" pairs. A "config_file" entry is resolved relative to
// the process working directory and merged in before the remainder of str
// is applied, so inline options always take precedence over the file.
func ParseConfig(str string) (Config, error) {
	cfg := DefaultConfig()

	pairs, err := splitPairs(str)
	if err != nil {
		return Config{}, err
	}

	if path, ok := pairs["config_file"]; ok {
		fileCfg, err := parseConfigFile(path)
		if err != nil {
			return Config{}, stackerr.Wrap(err)
		}
		cfg = fileCfg
	}

	if err := applyPairs(&cfg, pairs); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, stackerr.Wrap(err)
	}
	defer f.Close()

	pairs := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := splitInto(pairs, line); err != nil {
			return Config{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, stackerr.Wrap(err)
	}
	if err := applyPairs(&cfg, pairs); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitPairs(str string) (map[string]string, error) {
	pairs := map[string]string{}
	for _, field := range strings.Split(str, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if err := splitInto(pairs, field); err != nil {
			return nil, err
		}
	}
	return pairs, nil
}

func splitInto(pairs map[string]string, field string) error {
	kv := strings.SplitN(field, "=", 2)
	if len(kv) != 2 {
		return stackerr.Newf("engine: malformed config entry %q", field)
	}
	pairs[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	return nil
}

func applyPairs(cfg *Config, pairs map[string]string) error {
	for key, value := range pairs {
		var err error
		switch key {
		case "config_file":
			// already resolved by the caller.
		case "use_cas":
			cfg.UseCas, err = strconv.ParseBool(value)
		case "verbose":
			var v uint64
			v, err = strconv.ParseUint(value, 10, 32)
			cfg.Verbose = uint(v)
		case "eviction":
			cfg.Eviction, err = strconv.ParseBool(value)
		case "cache_size":
			cfg.CacheSize, err = strconv.ParseInt(value, 10, 64)
		case "preallocate":
			cfg.Preallocate, err = strconv.ParseBool(value)
		case "factor":
			cfg.Factor, err = strconv.ParseFloat(value, 64)
		case "chunk_size":
			var v int64
			v, err = strconv.ParseInt(value, 10, 32)
			cfg.ChunkSize = int(v)
		default:
			return stackerr.Newf("engine: unknown config key %q", key)
		}
		if err != nil {
			return stackerr.Wrap(err)
		}
	}
	return nil
}
