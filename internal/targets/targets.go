// Package targets loads the list of product pages to scrape.
package targets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/prothunter/internal/models"
)

var ErrNoTargets = errors.New("no targets configured")

// Bounds is the configured plausible price range that per-target overrides
// are merged with.
type Bounds struct {
	Min float64
	Max float64
}

type file struct {
	Targets []models.TargetSpec `yaml:"targets"`
}

// Load reads a YAML targets file.
func Load(path string, bounds Bounds, logger *slog.Logger) ([]models.TargetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	targets, err := Parse(bytes.NewReader(data), bounds, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

// Parse decodes and validates targets. Order is preserved; identifier
// collisions are logged but both targets are kept. A target whose price range,
// after merging with bounds, is empty is rejected.
func Parse(r io.Reader, bounds Bounds, logger *slog.Logger) ([]models.TargetSpec, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoTargets
		}
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}

	if len(f.Targets) == 0 {
		return nil, ErrNoTargets
	}

	var problems []string
	seen := make(map[string]int, len(f.Targets))
	for i, t := range f.Targets {
		for _, p := range t.Validate() {
			problems = append(problems, fmt.Sprintf("target %d (%s): %s", i+1, t.Brand, p))
		}
		if lo, hi := t.PriceBounds(bounds.Min, bounds.Max); lo >= hi {
			problems = append(problems, fmt.Sprintf("target %d (%s): empty price range (%.2f, %.2f)", i+1, t.Brand, lo, hi))
		}

		id := t.ID()
		if prev, ok := seen[id]; ok {
			logger.Warn("duplicate target identifier", "id", id, "first", prev+1, "second", i+1)
			continue
		}
		seen[id] = i
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid targets: %s", strings.Join(problems, "; "))
	}

	return f.Targets, nil
}
