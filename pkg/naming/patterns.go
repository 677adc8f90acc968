package naming

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PatternFile is the on-disk pattern override format:
//
//	patterns:
//	  aws_s3_bucket: "{project}-{purpose}-{layer}-{environment}-{region_code}"
//	  dbx_cluster: "{team}-{workload}-{environment}"
type PatternFile struct {
	Patterns map[string]string `yaml:"patterns"`
}

// LoadPatternFile reads pattern overrides from a YAML file and applies
// them to the generator.
func (g *Generator) LoadPatternFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading pattern file %s: %w", path, err)
	}

	var pf PatternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing pattern file %s: %w", path, err)
	}
	if len(pf.Patterns) == 0 {
		return fmt.Errorf("pattern file %s defines no patterns", path)
	}
	if err := g.WithPatterns(pf.Patterns); err != nil {
		return fmt.Errorf("pattern file %s: %w", path, err)
	}
	return nil
}
