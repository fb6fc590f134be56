package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type moduleContext struct {
	values map[string]*yaml.Node
}

// Load reads and decodes the configuration file or directory from disk.
// Modules are merged in declaration order; the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	ctx := moduleContext{values: make(map[string]*yaml.Node)}

	var cfg *Config
	if info.IsDir() {
		cfg, err = loadDir(abs, visited, ctx)
	} else {
		cfg, err = loadFile(abs, visited, ctx)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

func loadFile(path string, visited map[string]struct{}, ctx moduleContext) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}

	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", path)
	}

	valuesMap := copyValueMap(ctx.values)
	if err := loadValuesIntoMap(root, filepath.Dir(path), valuesMap); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := resolveValueTags(root, valuesMap); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var generic map[string]any
	if err := root.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := ValidateSchema(generic); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})
	cfg.Files = []string{path}

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}

		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		childCtx := moduleContext{values: copyValueMap(valuesMap)}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited, childCtx)
		} else {
			child, err = loadFile(modulePath, visited, childCtx)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if child == nil {
			continue
		}
		override := ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		}
		child.applyModuleMetadata(override)
		mergeConfig(&cfg, child)
	}

	if err := validateConfigIdentifiers(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

func loadDir(path string, visited map[string]struct{}, ctx moduleContext) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isValuesFile(name) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		sub, err := loadFile(filepath.Join(path, name), visited, ctx)
		if err != nil {
			return nil, err
		}
		mergeConfig(result, sub)
	}
	return result, nil
}

func copyValueMap(src map[string]*yaml.Node) map[string]*yaml.Node {
	dst := make(map[string]*yaml.Node, len(src))
	for key, node := range src {
		dst[key] = cloneNode(node)
	}
	return dst
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	clone := *n
	if len(n.Content) > 0 {
		clone.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			clone.Content[i] = cloneNode(child)
		}
	}
	if n.Alias != nil {
		clone.Alias = cloneNode(n.Alias)
	}
	return &clone
}

// mergeConfig folds a module into dst. Scalars set by the module win,
// devices are appended.
func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" || src.Telemetry.Listen != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.MQTT != nil {
		dst.MQTT = src.MQTT
	}
	if src.HotReload {
		dst.HotReload = true
	}
	if src.ReloadInterval.Duration != 0 {
		dst.ReloadInterval = src.ReloadInterval
	}
	dst.Devices = append(dst.Devices, src.Devices...)
	dst.Files = append(dst.Files, src.Files...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.Devices {
		c.Devices[i].Source = mergeInitialSource(c.Devices[i].Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Devices {
		c.Devices[i].Source = mergeModuleOverride(c.Devices[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" {
		child.File = meta.File
	}
	if child.Name == "" {
		child.Name = meta.Name
	}
	if child.Description == "" {
		child.Description = meta.Description
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.File != "" {
		base.File = override.File
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
