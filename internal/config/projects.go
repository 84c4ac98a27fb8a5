package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectEntry is one alias's mapping to a working directory, matching the
// "alias -> path" shape original_source's router_factory.py/profile.py
// resolve per-engine config from, generalized here into a user-facing
// project list so a chat can switch context with "/project <alias>"
// instead of typing a raw filesystem path.
type ProjectEntry struct {
	Root   string `yaml:"root"`
	Branch string `yaml:"branch,omitempty"`
}

// Projects is the parsed contents of projects.yaml: alias -> entry.
type Projects map[string]ProjectEntry

// LoadProjects reads and validates a projects.yaml file. A missing file is
// not an error — it just means no aliases are configured yet.
func LoadProjects(path string) (Projects, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Projects{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed map[string]ProjectEntry
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	out := make(Projects, len(parsed))
	for alias, entry := range parsed {
		if entry.Root == "" {
			return nil, fmt.Errorf("config: project %q in %s is missing root", alias, path)
		}
		out[alias] = entry
	}
	return out, nil
}
