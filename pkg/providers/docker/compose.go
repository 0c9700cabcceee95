// Package docker turns a Docker Compose file into per-service log sources
// that follow `docker logs`.
package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/hearth/pkg/config"
)

// ComposeFile represents a minimal Docker Compose file.
type ComposeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]ComposeService `yaml:"services"`
}

// ComposeService is a minimal service definition from a compose file.
type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Labels        map[string]string `yaml:"labels"`
}

// ParseComposeFile reads a compose.yml and returns service definitions.
func ParseComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var cf ComposeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	return &cf, nil
}

// ServiceNames returns the service names in the compose file, sorted.
func (cf *ComposeFile) ServiceNames() []string {
	names := make([]string, 0, len(cf.Services))
	for name := range cf.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContainerName is the container compose starts for service: its explicit
// container_name, or "<project>-<service>-1".
func (cf *ComposeFile) ContainerName(project, service string) string {
	if c := cf.Services[service].ContainerName; c != "" {
		return c
	}
	return fmt.Sprintf("%s-%s-1", project, service)
}

// Project resolves the compose project name the way docker compose does:
// the configured one, the file's top-level name, or the directory name.
func (cf *ComposeFile) Project(configured, path string) string {
	switch {
	case configured != "":
		return configured
	case cf.Name != "":
		return cf.Name
	default:
		return filepath.Base(filepath.Dir(path))
	}
}

// ExpandSources replaces every compose source with one exec source per
// service. Services whose name is already used by another source are skipped.
// The project becomes the namespace unless one is configured.
func ExpandSources(sources []config.Source) ([]config.Source, error) {
	existing := make(map[string]bool)
	for _, s := range sources {
		if s.Kind != config.KindCompose {
			existing[s.Source] = true
		}
	}

	out := make([]config.Source, 0, len(sources))
	for _, s := range sources {
		if s.Kind != config.KindCompose {
			out = append(out, s)
			continue
		}
		cf, err := ParseComposeFile(s.Path)
		if err != nil {
			return nil, err
		}
		project := cf.Project(s.Project, s.Path)
		namespace := s.Namespace
		if namespace == "" {
			namespace = project
		}
		for _, name := range cf.ServiceNames() {
			if existing[name] {
				continue
			}
			existing[name] = true
			out = append(out, config.Source{
				Kind:      config.KindExec,
				Command:   "docker logs -f --since 0s " + cf.ContainerName(project, name),
				Source:    name,
				Namespace: namespace,
				Domain:    s.Domain,
			})
		}
	}
	return out, nil
}
