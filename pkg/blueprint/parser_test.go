package blueprint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dpnlabs/dpn/pkg/engine"
	"github.com/dpnlabs/dpn/pkg/naming"
)

func testGenerator(t *testing.T) *naming.Generator {
	t.Helper()
	g, err := naming.NewGenerator(naming.Config{
		Project:     "dataplatform",
		Environment: "prd",
		Region:      "us-east-1",
	})
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}
	return g
}

func writeBlueprint(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blueprint.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write blueprint: %v", err)
	}
	return path
}

const fullBlueprint = `{
  "version": "1.0",
  "metadata": {
    "environment": "prd",
    "project": "dataplatform",
    "region": "us-east-1",
    "team": "core"
  },
  "resources": {
    "aws": {
      "s3_buckets": [
        {"purpose": "sales", "layer": "raw"}
      ],
      "glue_databases": [
        {"domain": "finance", "layer": "gold", "description": "Finance marts"}
      ],
      "glue_tables": [
        {"database_ref": "finance-gold", "entity": "orders", "table_type": "fact",
         "columns": [{"name": "order_id", "type": "string"}]}
      ]
    },
    "databricks": {
      "clusters": [
        {"workload": "etl", "cluster_type": "shared", "node_type": "r5.xlarge"}
      ],
      "jobs": [
        {"job_type": "batch", "purpose": "ingest", "cluster_ref": "etl"}
      ]
    }
  }
}`

func TestParser_ParseFile(t *testing.T) {
	p := NewParser()

	specs, err := p.ParseFile(writeBlueprint(t, fullBlueprint), testGenerator(t))
	if err != nil {
		t.Fatalf("Failed to parse blueprint: %v", err)
	}
	if len(specs) != 5 {
		t.Fatalf("Expected 5 resource specs, got %d", len(specs))
	}

	byName := make(map[string]engine.ResourceSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	wantNames := []string{
		"dataplatform-sales-raw-prd-use1",
		"dataplatform_finance_gold_prd",
		"fact_orders",
		"dataplatform-etl-shared-prd",
		"dataplatform-batch-ingest-prd",
	}
	for _, name := range wantNames {
		if _, ok := byName[name]; !ok {
			t.Errorf("Expected resource %s to be generated", name)
		}
	}

	table := byName["fact_orders"]
	if len(table.DependsOn) != 1 || table.DependsOn[0] != "dataplatform_finance_gold_prd" {
		t.Errorf("Expected table to depend on its database, got %v", table.DependsOn)
	}
	var tableParams TableParams
	if err := json.Unmarshal(table.Params, &tableParams); err != nil {
		t.Fatalf("Bad table params: %v", err)
	}
	if tableParams.DatabaseName != "dataplatform_finance_gold_prd" {
		t.Errorf("Expected resolved database name in params, got %s", tableParams.DatabaseName)
	}

	job := byName["dataplatform-batch-ingest-prd"]
	if len(job.DependsOn) != 1 || job.DependsOn[0] != "dataplatform-etl-shared-prd" {
		t.Errorf("Expected job to depend on its cluster, got %v", job.DependsOn)
	}

	bucket := byName["dataplatform-sales-raw-prd-use1"]
	var bucketParams BucketParams
	if err := json.Unmarshal(bucket.Params, &bucketParams); err != nil {
		t.Fatalf("Bad bucket params: %v", err)
	}
	if !bucketParams.Versioning {
		t.Error("Versioning must default to true")
	}
	if bucketParams.LifecycleDays != 90 {
		t.Errorf("Expected default lifecycle of 90 days, got %d", bucketParams.LifecycleDays)
	}
	if bucketParams.Tags["Project"] != "dataplatform" || bucketParams.Tags["Team"] != "core" {
		t.Errorf("Expected metadata tags, got %v", bucketParams.Tags)
	}
	if bucketParams.Tags["ManagedBy"] != "dpn" {
		t.Errorf("Expected ManagedBy tag, got %v", bucketParams.Tags)
	}
}

func TestParser_UnityCatalogHierarchy(t *testing.T) {
	content := `{
  "version": "1.0",
  "metadata": {"environment": "prd", "project": "dataplatform", "region": "eu-west-1"},
  "resources": {
    "databricks": {
      "unity_catalog": {
        "catalogs": [
          {"catalog_type": "main", "schemas": [
            {"domain": "sales", "layer": "bronze", "tables": [
              {"entity": "orders", "table_type": "fact"}
            ]}
          ]}
        ]
      }
    }
  }
}`
	p := NewParser()
	specs, err := p.ParseFile(writeBlueprint(t, content), testGenerator(t))
	if err != nil {
		t.Fatalf("Failed to parse blueprint: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("Expected catalog, schema, table, got %d specs", len(specs))
	}

	catalog, schema, table := specs[0], specs[1], specs[2]
	if catalog.Type != engine.ResourceDBXCatalog || catalog.Name != "dataplatform_prd" {
		t.Errorf("Expected catalog dataplatform_prd, got %s %s", catalog.Type, catalog.Name)
	}
	if schema.Type != engine.ResourceDBXSchema {
		t.Errorf("Expected schema spec, got %s", schema.Type)
	}
	if len(schema.DependsOn) != 1 || schema.DependsOn[0] != catalog.Name {
		t.Errorf("Expected schema to depend on catalog, got %v", schema.DependsOn)
	}
	if table.Type != engine.ResourceDBXTable {
		t.Errorf("Expected table spec, got %s", table.Type)
	}
	if len(table.DependsOn) != 1 || table.DependsOn[0] != schema.Name {
		t.Errorf("Expected table to depend on schema, got %v", table.DependsOn)
	}

	var params UCTableParams
	if err := json.Unmarshal(table.Params, &params); err != nil {
		t.Fatalf("Bad table params: %v", err)
	}
	if params.CatalogName != catalog.Name {
		t.Errorf("Expected catalog name in table params, got %s", params.CatalogName)
	}
	if params.Name == table.Name {
		t.Error("Table params must carry the bare name, not the qualified request name")
	}
}

func TestParser_ScopeInclude(t *testing.T) {
	content := `{
  "version": "1.0",
  "metadata": {"environment": "prd", "project": "dataplatform", "region": "us-east-1"},
  "scope": {"mode": "include", "patterns": ["aws_s3_bucket"]},
  "resources": {
    "aws": {
      "s3_buckets": [{"purpose": "sales", "layer": "raw"}],
      "glue_databases": [{"domain": "finance", "layer": "gold"}]
    },
    "databricks": {
      "clusters": [{"workload": "etl", "cluster_type": "shared", "node_type": "r5.xlarge"}]
    }
  }
}`
	p := NewParser()
	specs, err := p.ParseFile(writeBlueprint(t, content), testGenerator(t))
	if err != nil {
		t.Fatalf("Failed to parse blueprint: %v", err)
	}
	if len(specs) != 1 || specs[0].Type != engine.ResourceS3Bucket {
		t.Errorf("Expected only the bucket in scope, got %+v", specs)
	}
}

func TestParser_ScopeExcludeWildcard(t *testing.T) {
	content := `{
  "version": "1.0",
  "metadata": {"environment": "prd", "project": "dataplatform", "region": "us-east-1"},
  "scope": {"mode": "exclude", "patterns": ["dbx_*"]},
  "resources": {
    "aws": {"s3_buckets": [{"purpose": "sales", "layer": "raw"}]},
    "databricks": {
      "clusters": [{"workload": "etl", "cluster_type": "shared", "node_type": "r5.xlarge"}]
    }
  }
}`
	p := NewParser()
	specs, err := p.ParseFile(writeBlueprint(t, content), testGenerator(t))
	if err != nil {
		t.Fatalf("Failed to parse blueprint: %v", err)
	}
	for _, s := range specs {
		if s.Type == engine.ResourceDBXCluster {
			t.Errorf("Excluded type leaked through scope: %s", s.Name)
		}
	}
	if len(specs) != 1 {
		t.Errorf("Expected 1 spec, got %d", len(specs))
	}
}

func TestParser_UnknownDatabaseRef(t *testing.T) {
	content := `{
  "version": "1.0",
  "metadata": {"environment": "prd", "project": "dataplatform", "region": "us-east-1"},
  "resources": {
    "aws": {
      "glue_tables": [{"database_ref": "missing-gold", "entity": "orders", "columns": []}]
    }
  }
}`
	p := NewParser()
	_, err := p.ParseFile(writeBlueprint(t, content), testGenerator(t))
	if !engine.IsValidation(err) {
		t.Fatalf("Expected validation error for unknown database ref, got: %v", err)
	}
}

func TestParser_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "{nope"},
		{"wrong version", `{"version": "2.0", "metadata": {"environment": "prd", "project": "p", "region": "us-east-1"}, "resources": {}}`},
		{"bad environment", `{"version": "1.0", "metadata": {"environment": "production", "project": "p", "region": "us-east-1"}, "resources": {}}`},
		{"missing project", `{"version": "1.0", "metadata": {"environment": "prd", "region": "us-east-1"}, "resources": {}}`},
		{"bad scope mode", `{"version": "1.0", "metadata": {"environment": "prd", "project": "p", "region": "us-east-1"}, "scope": {"mode": "allow", "patterns": ["*"]}, "resources": {}}`},
		{"bad bucket layer", `{"version": "1.0", "metadata": {"environment": "prd", "project": "p", "region": "us-east-1"}, "resources": {"aws": {"s3_buckets": [{"purpose": "x", "layer": "golden"}]}}}`},
	}
	p := NewParser()
	gen := testGenerator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.ParseFile(writeBlueprint(t, tc.content), gen)
			if !engine.IsValidation(err) {
				t.Errorf("Expected validation error, got: %v", err)
			}
		})
	}
}

func TestParser_EmptyBlueprint(t *testing.T) {
	content := `{
  "version": "1.0",
  "metadata": {"environment": "prd", "project": "dataplatform", "region": "us-east-1"},
  "resources": {}
}`
	p := NewParser()
	_, err := p.ParseFile(writeBlueprint(t, content), testGenerator(t))
	if !engine.IsValidation(err) {
		t.Fatalf("Expected validation error for empty blueprint, got: %v", err)
	}
}
