package detector

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultLabels is the Bisindo fingerspelling alphabet, in class order.
func DefaultLabels() []string {
	labels := make([]string, 26)
	for i := range labels {
		labels[i] = string(rune('A' + i))
	}
	return labels
}

// datasetFile is the subset of an ultralytics data.yaml we read. names is
// either a list or an index-keyed map.
type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadLabels reads class names from a dataset file. An empty path yields
// DefaultLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return DefaultLabels(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels decodes the names entry of a dataset file.
func ParseLabels(data []byte) ([]string, error) {
	var ds datasetFile
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}

	switch ds.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("parse labels: names is empty")
		}
		return names, nil

	case yaml.MappingNode:
		var byIndex map[int]string
		if err := ds.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
		if len(byIndex) == 0 {
			return nil, fmt.Errorf("parse labels: names is empty")
		}
		keys := make([]int, 0, len(byIndex))
		for k := range byIndex {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		if keys[0] != 0 || keys[len(keys)-1] != len(keys)-1 {
			return nil, fmt.Errorf("parse labels: class ids must be contiguous from 0")
		}
		names := make([]string, len(keys))
		for _, k := range keys {
			names[k] = byIndex[k]
		}
		return names, nil

	default:
		return nil, fmt.Errorf("parse labels: missing names")
	}
}

// labelFor returns the class name, or a numeric placeholder for ids the
// label set does not cover.
func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}
