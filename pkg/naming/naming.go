// Package naming generates standardized resource names from configurable
// patterns. A pattern is a template with {variable} placeholders; variable
// values come from the generator configuration merged with per-resource
// inputs, then pass through transformations (region shortening, case
// folding, charset sanitization) before length limits are enforced.
package naming

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Environment codes accepted by the generator.
const (
	EnvDev = "dev"
	EnvStg = "stg"
	EnvPrd = "prd"
)

// regionCodes maps AWS regions to the short codes embedded in names.
var regionCodes = map[string]string{
	"us-east-1":      "use1",
	"us-east-2":      "use2",
	"us-west-1":      "usw1",
	"us-west-2":      "usw2",
	"eu-west-1":      "euw1",
	"eu-west-2":      "euw2",
	"eu-west-3":      "euw3",
	"eu-central-1":   "euc1",
	"eu-north-1":     "eun1",
	"ap-south-1":     "aps1",
	"ap-southeast-1": "apse1",
	"ap-southeast-2": "apse2",
	"ap-northeast-1": "apne1",
	"ap-northeast-2": "apne2",
	"ca-central-1":   "cac1",
	"sa-east-1":      "sae1",
}

// maxLengths holds provider-imposed name length limits.
var maxLengths = map[string]int{
	"aws_s3_bucket":     63,
	"aws_glue_database": 255,
	"aws_glue_table":    255,
	"dbx_cluster":       100,
	"dbx_job":           100,
	"dbx_catalog":       255,
	"dbx_schema":        255,
	"dbx_table":         255,
}

// defaultPatterns are used when no pattern file overrides them.
var defaultPatterns = map[string]string{
	"aws_s3_bucket":     "{project}-{purpose}-{layer}-{environment}-{region_code}",
	"aws_glue_database": "{project}_{domain}_{layer}_{environment}",
	"aws_glue_table":    "{table_type}_{entity}",
	"dbx_cluster":       "{project}-{workload}-{cluster_type}-{environment}",
	"dbx_job":           "{project}-{job_type}-{purpose}-{environment}",
	"dbx_catalog":       "{project}_{environment}",
	"dbx_schema":        "{domain}_{layer}",
	"dbx_table":         "{table_type}_{entity}",
}

// underscoreTypes are resource types whose charset is [a-z0-9_] instead of
// the hyphenated default.
var underscoreTypes = map[string]bool{
	"aws_glue_database": true,
	"aws_glue_table":    true,
	"dbx_catalog":       true,
	"dbx_schema":        true,
	"dbx_table":         true,
}

var (
	placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)
	projectRe     = regexp.MustCompile(`^[a-z0-9-]+$`)
	hyphenCharset = regexp.MustCompile(`[^a-z0-9-]`)
	underCharset  = regexp.MustCompile(`[^a-z0-9_]`)
	runsRe        = regexp.MustCompile(`[-_]{2,}`)
)

// Pattern is a name template with {variable} placeholders.
type Pattern struct {
	ResourceType string
	Template     string
}

// Variables returns the placeholder names the template references, sorted.
func (p Pattern) Variables() []string {
	matches := placeholderRe.FindAllStringSubmatch(p.Template, -1)
	seen := make(map[string]bool, len(matches))
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	sort.Strings(vars)
	return vars
}

// Format substitutes values into the template. Every placeholder must have
// a non-empty value.
func (p Pattern) Format(values map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(p.Template, func(ph string) string {
		key := ph[1 : len(ph)-1]
		v, ok := values[key]
		if !ok || v == "" {
			missing = append(missing, key)
			return ph
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("pattern %q missing variables: %s",
			p.Template, strings.Join(missing, ", "))
	}
	return out, nil
}

// Config holds the deployment context every generated name embeds.
type Config struct {
	Project     string `yaml:"project" validate:"required"`
	Environment string `yaml:"environment" validate:"required,oneof=dev stg prd"`
	Region      string `yaml:"region" validate:"required"`
	Team        string `yaml:"team,omitempty"`
}

// Generator produces names for one deployment context.
type Generator struct {
	cfg      Config
	patterns map[string]Pattern
}

// NewGenerator validates the context and returns a generator using the
// built-in patterns. Use WithPatterns to override from a pattern file.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Environment != EnvDev && cfg.Environment != EnvStg && cfg.Environment != EnvPrd {
		return nil, fmt.Errorf("invalid environment %q: valid environments are %s, %s, %s",
			cfg.Environment, EnvDev, EnvStg, EnvPrd)
	}
	if !projectRe.MatchString(cfg.Project) {
		return nil, fmt.Errorf("invalid project %q: only lowercase letters, digits and hyphens are allowed",
			cfg.Project)
	}

	patterns := make(map[string]Pattern, len(defaultPatterns))
	for rt, tmpl := range defaultPatterns {
		patterns[rt] = Pattern{ResourceType: rt, Template: tmpl}
	}
	return &Generator{cfg: cfg, patterns: patterns}, nil
}

// WithPatterns overrides the templates for the resource types present in
// the map, keeping defaults for the rest.
func (g *Generator) WithPatterns(overrides map[string]string) error {
	for rt, tmpl := range overrides {
		if _, ok := defaultPatterns[rt]; !ok {
			return fmt.Errorf("unknown resource type %q in pattern overrides", rt)
		}
		if len(placeholderRe.FindAllString(tmpl, -1)) == 0 {
			return fmt.Errorf("pattern for %s has no variables: %q", rt, tmpl)
		}
		g.patterns[rt] = Pattern{ResourceType: rt, Template: tmpl}
	}
	return nil
}

// Pattern returns the active template for a resource type.
func (g *Generator) Pattern(resourceType string) (Pattern, error) {
	p, ok := g.patterns[resourceType]
	if !ok {
		return Pattern{}, fmt.Errorf("no naming pattern for resource type %q", resourceType)
	}
	return p, nil
}

// Generate builds the name for a resource type from per-resource values.
// Context values (project, environment, region, region_code, team) are
// filled automatically; explicit values win over context.
func (g *Generator) Generate(resourceType string, values map[string]string) (string, error) {
	p, err := g.Pattern(resourceType)
	if err != nil {
		return "", err
	}

	merged := map[string]string{
		"project":     g.cfg.Project,
		"environment": g.cfg.Environment,
		"region":      g.cfg.Region,
		"region_code": regionCode(g.cfg.Region),
	}
	if g.cfg.Team != "" {
		merged["team"] = g.cfg.Team
	}
	for k, v := range values {
		merged[k] = v
	}

	name, err := p.Format(merged)
	if err != nil {
		return "", err
	}
	name = sanitize(name, resourceType)
	name = truncate(name, resourceType)

	if name == "" {
		return "", fmt.Errorf("pattern for %s produced an empty name", resourceType)
	}
	return name, nil
}

// regionCode shortens an AWS region, falling back to the region with its
// separators stripped so unknown regions still yield a legal name segment.
func regionCode(region string) string {
	if code, ok := regionCodes[region]; ok {
		return code
	}
	return strings.ReplaceAll(region, "-", "")
}

// sanitize lowercases and folds characters outside the resource type's
// charset, then collapses separator runs and trims edge separators.
func sanitize(name, resourceType string) string {
	name = strings.ToLower(name)
	if underscoreTypes[resourceType] {
		name = underCharset.ReplaceAllString(name, "_")
	} else {
		name = hyphenCharset.ReplaceAllString(name, "-")
	}
	name = runsRe.ReplaceAllStringFunc(name, func(run string) string {
		return run[:1]
	})
	return strings.Trim(name, "-_")
}

// truncate enforces the provider length limit, preserving the trailing two
// segments (environment and region carry the most signal) when cutting.
func truncate(name, resourceType string) string {
	max, ok := maxLengths[resourceType]
	if !ok || len(name) <= max {
		return name
	}

	sep := "-"
	if underscoreTypes[resourceType] {
		sep = "_"
	}
	parts := strings.Split(name, sep)
	if len(parts) < 3 {
		return name[:max]
	}
	suffix := strings.Join(parts[len(parts)-2:], sep)
	prefixLen := max - len(suffix) - 1
	if prefixLen < 10 {
		return name[:max]
	}
	return name[:prefixLen] + sep + suffix
}
