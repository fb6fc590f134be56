package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Values are named YAML nodes declared under a top-level "values" list,
// either inline or in *.values.yaml files, and referenced as "!name" tags.

func loadValuesIntoMap(root *yaml.Node, baseDir string, values map[string]*yaml.Node) error {
	seq := mappingValue(root, "values")
	if seq == nil {
		return nil
	}
	if seq.Kind != yaml.SequenceNode {
		return fmt.Errorf("values block must be a sequence")
	}
	for _, item := range seq.Content {
		if item == nil {
			continue
		}
		switch item.Kind {
		case yaml.ScalarNode:
			ref := strings.TrimSpace(item.Value)
			if ref == "" {
				continue
			}
			path := ref
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, ref)
			}
			loaded, err := loadValueFile(path)
			if err != nil {
				return fmt.Errorf("load values %s: %w", ref, err)
			}
			for name, node := range loaded {
				values[name] = node
			}
		case yaml.MappingNode:
			for name, node := range extractValuesFromMapping(item) {
				values[name] = node
			}
		default:
			return fmt.Errorf("values entry at line %d must be a string path or mapping", item.Line)
		}
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if k != nil && k.Kind == yaml.ScalarNode && strings.TrimSpace(k.Value) == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func isValuesFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".values.yaml") || strings.HasSuffix(lower, ".values.yml")
}

func loadValueFile(path string) (map[string]*yaml.Node, error) {
	if !isValuesFile(filepath.Base(path)) {
		return nil, fmt.Errorf("values file %s must end with .values.yaml or .values.yml", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, err
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("values file %s is empty", path)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("values file %s must contain a mapping", path)
	}
	return extractValuesFromMapping(root), nil
}

func extractValuesFromMapping(node *yaml.Node) map[string]*yaml.Node {
	result := make(map[string]*yaml.Node)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		if keyNode == nil || keyNode.Kind != yaml.ScalarNode {
			continue
		}
		if name := strings.TrimSpace(keyNode.Value); name != "" {
			result[name] = cloneNode(node.Content[i+1])
		}
	}
	return result
}

// resolveValueTags replaces every scalar tagged "!name" with a copy of the
// named value.
func resolveValueTags(node *yaml.Node, values map[string]*yaml.Node) error {
	if node == nil {
		return nil
	}
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, child := range node.Content {
			if err := resolveValueTags(child, values); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if !strings.HasPrefix(node.Tag, "!") || strings.HasPrefix(node.Tag, "!!") {
			return nil
		}
		key := strings.TrimPrefix(node.Tag, "!")
		if key == "" {
			return fmt.Errorf("invalid value reference at line %d", node.Line)
		}
		value, ok := values[key]
		if !ok {
			return fmt.Errorf("unknown value reference %q at line %d", key, node.Line)
		}
		if value == nil {
			return fmt.Errorf("value %q resolved to nil", key)
		}
		*node = *cloneNode(value)
	}
	return nil
}
