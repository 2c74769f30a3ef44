// Package registry resolves, configures and instantiates the modules named
// in the server configuration.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/pkg/module"
)

var (
	// ErrModuleNotFound is returned when no provider exists for a module name
	ErrModuleNotFound = errors.New("module not found")
	// ErrNotModule is returned when a provider builds something that is not a Module
	ErrNotModule = errors.New("provider did not return a module.Module")
	// ErrBadPlugin is returned when a plugin does not export a usable Provider
	ErrBadPlugin = errors.New("plugin does not export a module provider")
)

// configExtensions are tried in order when looking for a module's config
var configExtensions = []string{".json", ".yaml", ".yml"}

// Load instantiates every module in names. Providers come from the static
// table filled by module.RegisterProvider, falling back to a Go plugin at
// <basePath>/modules/<name>.so. Configuration is read from
// <basePath>/config/<name>.{json,yaml,yml}; a missing file means an empty
// configuration.
func Load(ctx context.Context, basePath string, names []string) (map[string]module.Module, error) {
	logger := log.WithComponent("registry")
	out := make(map[string]module.Module, len(names))

	for _, requested := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := strings.ToLower(strings.TrimSpace(requested))
		logger.Info().Str("module", name).Msg("Loading module")

		provider, err := resolve(basePath, name)
		if err != nil {
			return nil, err
		}

		cfg, err := loadConfig(basePath, name)
		if err != nil {
			return nil, err
		}

		if len(provider.ConfigSchema) > 0 {
			if err := validateConfig(name, provider.ConfigSchema, cfg); err != nil {
				logger.Error().Err(err).Str("module", name).Msg("Schema validation failure for module config")
			}
		}

		built, err := provider.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create module %s: %w", name, err)
		}
		m, ok := built.(module.Module)
		if !ok || m == nil {
			return nil, fmt.Errorf("%s: %w (got %T)", name, ErrNotModule, built)
		}

		if m.Name() != name {
			logger.Warn().Str("requested", name).Str("actual", m.Name()).Msg("Module registered under a different name")
		}
		if _, dup := out[m.Name()]; dup {
			logger.Warn().Str("module", m.Name()).Msg("Duplicate module name; the later entry replaces the earlier one")
		}
		out[m.Name()] = m
	}

	return out, nil
}

func resolve(basePath, name string) (module.Provider, error) {
	if p, ok := module.LookupProvider(name); ok {
		return p, nil
	}

	path := filepath.Join(basePath, "modules", name+".so")
	if _, err := os.Stat(path); err != nil {
		return module.Provider{}, fmt.Errorf("%s: %w (not linked in and no plugin at %s)", name, ErrModuleNotFound, path)
	}
	return openPlugin(path)
}

// openPlugin loads a Go plugin exporting either
//
//	var Provider module.Provider
//
// or
//
//	func Provider() module.Provider
func openPlugin(path string) (module.Provider, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return module.Provider{}, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}

	sym, err := p.Lookup("Provider")
	if err != nil {
		return module.Provider{}, fmt.Errorf("%s: %w", path, ErrBadPlugin)
	}

	var provider module.Provider
	switch v := sym.(type) {
	case *module.Provider:
		provider = *v
	case func() module.Provider:
		provider = v()
	default:
		return module.Provider{}, fmt.Errorf("%s: %w (symbol is %T)", path, ErrBadPlugin, sym)
	}
	if provider.New == nil {
		return module.Provider{}, fmt.Errorf("%s: %w (nil constructor)", path, ErrBadPlugin)
	}
	return provider, nil
}

func loadConfig(basePath, name string) (map[string]any, error) {
	for _, ext := range configExtensions {
		path := filepath.Join(basePath, "config", name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config for %s: %w", name, err)
		}

		cfg, err := decodeConfig(data, ext)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		return cfg, nil
	}

	return map[string]any{}, nil
}

// decodeConfig parses JSON or YAML into the same representation
// encoding/json produces, which is what the schema validator expects.
func decodeConfig(data []byte, ext string) (map[string]any, error) {
	if ext != ".json" {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

func validateConfig(name string, schema []byte, cfg map[string]any) error {
	url := "modhub://modules/" + name + "/config.schema.json"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	var doc any = cfg
	return compiled.Validate(doc)
}
