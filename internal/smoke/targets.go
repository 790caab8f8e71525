package smoke

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/browserenv/internal/queue"
)

// TargetFile is the YAML layout of a targets file:
//
//	targets:
//	  - name: home
//	    url: http://localhost:8080/
//	    priority: 10
type TargetFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

type TargetSpec struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
}

// LoadTargets reads a YAML targets file.
func LoadTargets(path string) ([]*queue.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets: %w", err)
	}

	var file TargetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return buildTargets(file.Targets)
}

// TargetsFromURLs turns plain URLs into targets in the given order.
func TargetsFromURLs(urls []string) ([]*queue.Target, error) {
	specs := make([]TargetSpec, len(urls))
	for i, u := range urls {
		specs[i] = TargetSpec{URL: u}
	}
	return buildTargets(specs)
}

func buildTargets(specs []TargetSpec) ([]*queue.Target, error) {
	targets := make([]*queue.Target, 0, len(specs))
	seen := make(map[string]bool, len(specs))

	for i, spec := range specs {
		u, err := url.Parse(spec.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("target %d: invalid url %q", i+1, spec.URL)
		}

		id := spec.ID
		if id == "" {
			id = spec.Name
		}
		if id == "" {
			id = "target-" + strconv.Itoa(i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("target %d: duplicate id %q", i+1, id)
		}
		seen[id] = true

		targets = append(targets, &queue.Target{
			ID:       id,
			URL:      spec.URL,
			Name:     spec.Name,
			Priority: spec.Priority,
		})
	}

	return targets, nil
}
