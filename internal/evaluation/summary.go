package evaluation

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Summary aggregates a run
type Summary struct {
	Provider     string         `yaml:"provider"`
	Model        string         `yaml:"model"`
	Dataset      string         `yaml:"dataset"`
	Date         time.Time      `yaml:"date"`
	Total        int            `yaml:"total"`
	Identified   int            `yaml:"identified"`
	Failures     map[string]int `yaml:"failures,omitempty"`
	SpeciesHits  int            `yaml:"species_hits"`
	GenusHits    int            `yaml:"genus_hits"`
	FamilyHits   int            `yaml:"family_hits"`
	FamilyLabels int            `yaml:"family_labels"`
	MeanScore    float64        `yaml:"mean_score"`
	AverageTime  time.Duration  `yaml:"average_time"`
	Results      []Result       `yaml:"results"`
}

// Summarize aggregates results from Run
func Summarize(provider, model, dataset string, results []Result) *Summary {
	s := &Summary{
		Provider: provider,
		Model:    model,
		Dataset:  dataset,
		Date:     time.Now().UTC(),
		Total:    len(results),
		Failures: map[string]int{},
		Results:  results,
	}

	var scoreSum float64
	var elapsed time.Duration
	for _, r := range results {
		elapsed += r.ProcessTime
		if r.Sample.Family != "" {
			s.FamilyLabels++
		}
		if r.Failure != "" {
			s.Failures[r.Failure]++
			continue
		}
		s.Identified++
		scoreSum += r.Predicted.Score
		if r.SpeciesHit {
			s.SpeciesHits++
		}
		if r.GenusHit {
			s.GenusHits++
		}
		if r.FamilyHit {
			s.FamilyHits++
		}
	}

	if s.Identified > 0 {
		s.MeanScore = scoreSum / float64(s.Identified)
	}
	if s.Total > 0 {
		s.AverageTime = elapsed / time.Duration(s.Total)
	}
	return s
}

// SpeciesAccuracy is the share of all samples whose species was named correctly
func (s *Summary) SpeciesAccuracy() float64 { return ratio(s.SpeciesHits, s.Total) }

// GenusAccuracy is the share of all samples whose genus was named correctly
func (s *Summary) GenusAccuracy() float64 { return ratio(s.GenusHits, s.Total) }

// FamilyAccuracy only counts samples labelled with a family
func (s *Summary) FamilyAccuracy() float64 { return ratio(s.FamilyHits, s.FamilyLabels) }

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// PrintSummary writes a human readable report
func (s *Summary) PrintSummary(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "IDENTIFICATION EVALUATION SUMMARY")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Provider: %s\n", s.Provider)
	if s.Model != "" {
		fmt.Fprintf(w, "Model: %s\n", s.Model)
	}
	fmt.Fprintf(w, "Dataset: %s (%d samples)\n", s.Dataset, s.Total)
	fmt.Fprintf(w, "Identified: %d (%.1f%%)\n", s.Identified, ratio(s.Identified, s.Total)*100)
	fmt.Fprintf(w, "Species accuracy: %.1f%%\n", s.SpeciesAccuracy()*100)
	fmt.Fprintf(w, "Genus accuracy: %.1f%%\n", s.GenusAccuracy()*100)
	if s.FamilyLabels > 0 {
		fmt.Fprintf(w, "Family accuracy: %.1f%%\n", s.FamilyAccuracy()*100)
	}
	fmt.Fprintf(w, "Mean confidence: %.3f\n", s.MeanScore)
	fmt.Fprintf(w, "Average time: %s\n", s.AverageTime.Round(time.Millisecond))

	if len(s.Failures) > 0 {
		kinds := make([]string, 0, len(s.Failures))
		for k := range s.Failures {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintln(w, "Failures:")
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, s.Failures[k])
		}
	}
	fmt.Fprintln(w, rule)
}

// SaveYAML writes the summary with every per-sample result
func (s *Summary) SaveYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}
