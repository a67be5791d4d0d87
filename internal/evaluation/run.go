package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
)

// Result is the outcome of identifying one sample
type Result struct {
	Sample      Sample                       `yaml:"sample"`
	Predicted   *models.IdentificationResult `yaml:"predicted,omitempty"`
	Failure     string                       `yaml:"failure,omitempty"`
	SpeciesHit  bool                         `yaml:"species_hit"`
	GenusHit    bool                         `yaml:"genus_hit"`
	FamilyHit   bool                         `yaml:"family_hit"`
	ProcessTime time.Duration                `yaml:"process_time"`
}

// Run identifies every sample with at most concurrency calls in flight.
// Identification failures are recorded per sample; only context
// cancellation aborts the run.
func Run(ctx context.Context, identifier providers.Identifier, ds *Dataset, concurrency int) ([]Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(ds.Samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, s := range ds.Samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = evaluate(gctx, identifier, ds.ImagePath(s), s)
			slog.Debug("Evaluated sample", "image", s.Image, "species_hit", results[i].SpeciesHit, "failure", results[i].Failure)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluate(ctx context.Context, identifier providers.Identifier, path string, s Sample) (r Result) {
	r.Sample = s
	start := time.Now()
	defer func() { r.ProcessTime = time.Since(start) }()

	data, err := os.ReadFile(path)
	if err != nil {
		r.Failure = fmt.Sprintf("read image: %v", err)
		return r
	}

	predicted, err := identifier.Identify(ctx, providers.Image{Name: path, Data: data})
	if err == nil && predicted == nil {
		err = providers.NewMalformedFailure("provider returned no result")
	}
	if err != nil {
		r.Failure = providers.AsFailure(err).Kind.String()
		return r
	}

	r.Predicted = predicted
	r.SpeciesHit = sameName(predicted.ScientificName, s.ScientificName)
	r.GenusHit = sameName(genus(predicted.ScientificName), genus(s.ScientificName))
	r.FamilyHit = s.Family != "" && sameName(predicted.Family, s.Family)
	return r
}

// sameName compares botanical names ignoring case and extra whitespace
func sameName(a, b string) bool {
	a = strings.Join(strings.Fields(a), " ")
	b = strings.Join(strings.Fields(b), " ")
	return a != "" && strings.EqualFold(a, b)
}

func genus(scientificName string) string {
	if f := strings.Fields(scientificName); len(f) > 0 {
		return f[0]
	}
	return ""
}
