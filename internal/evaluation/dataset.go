package evaluation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sample is one labelled photo in an evaluation dataset
type Sample struct {
	Image          string `yaml:"image" json:"image"`
	ScientificName string `yaml:"scientific_name" json:"scientific_name"`
	Family         string `yaml:"family,omitempty" json:"family,omitempty"`
}

// Dataset is a list of samples. Image paths are resolved against Dir.
type Dataset struct {
	Dir     string   `yaml:"-"`
	Samples []Sample `yaml:"samples"`
}

// LoadDataset reads a YAML manifest (samples: [...]) or a JSONL file with one sample per line
func LoadDataset(path string) (*Dataset, error) {
	var (
		ds  *Dataset
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		ds, err = loadYAML(path)
	case ".jsonl":
		ds, err = loadJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s (supported: .yaml, .jsonl)", ext)
	}
	if err != nil {
		return nil, err
	}

	ds.Dir = filepath.Dir(path)
	for i, s := range ds.Samples {
		if s.Image == "" || s.ScientificName == "" {
			return nil, fmt.Errorf("sample %d: image and scientific_name are required", i+1)
		}
	}

	slog.Debug("Dataset loaded", "path", path, "samples", len(ds.Samples))
	return ds, nil
}

// ImagePath returns the path of a sample's photo
func (d *Dataset) ImagePath(s Sample) string {
	if filepath.IsAbs(s.Image) {
		return s.Image
	}
	return filepath.Join(d.Dir, s.Image)
}

func loadYAML(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return &ds, nil
}

func loadJSONL(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var ds Dataset
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		ds.Samples = append(ds.Samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}

	return &ds, nil
}
