package blueprint

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/dpnlabs/dpn/pkg/engine"
	"github.com/dpnlabs/dpn/pkg/naming"
)

// Param payloads handed to the provider executors.
type (
	// BucketParams configures an S3 bucket create.
	BucketParams struct {
		Region        string            `json:"region"`
		Versioning    bool              `json:"versioning"`
		LifecycleDays int               `json:"lifecycle_days"`
		Tags          map[string]string `json:"tags"`
	}

	// DatabaseParams configures a Glue database create.
	DatabaseParams struct {
		Description string `json:"description,omitempty"`
	}

	// TableParams configures a Glue table create.
	TableParams struct {
		DatabaseName  string          `json:"database_name"`
		Columns       json.RawMessage `json:"columns"`
		PartitionKeys json.RawMessage `json:"partition_keys,omitempty"`
	}

	// ClusterParams configures a Databricks cluster create.
	ClusterParams struct {
		SparkVersion string            `json:"spark_version"`
		NodeType     string            `json:"node_type"`
		Autoscale    Autoscale         `json:"autoscale"`
		Tags         map[string]string `json:"tags"`
	}

	// JobParams configures a Databricks job create.
	JobParams struct {
		Tasks    json.RawMessage   `json:"tasks,omitempty"`
		Schedule string            `json:"schedule,omitempty"`
		Tags     map[string]string `json:"tags"`
	}

	// CatalogParams configures a Unity Catalog catalog create.
	CatalogParams struct {
		Name        string `json:"name"`
		StorageRoot string `json:"storage_root,omitempty"`
	}

	// SchemaParams configures a Unity Catalog schema create.
	SchemaParams struct {
		CatalogName string `json:"catalog_name"`
		Name        string `json:"name"`
	}

	// UCTableParams configures a Unity Catalog table create.
	UCTableParams struct {
		CatalogName string          `json:"catalog_name"`
		SchemaName  string          `json:"schema_name"`
		Name        string          `json:"name"`
		Columns     json.RawMessage `json:"columns,omitempty"`
	}
)

const (
	defaultSparkVersion = "13.3.x-scala2.12"
	defaultTableType    = "fact"
	defaultLifecycle    = 90
)

// Parser turns blueprint files into ordered resource requests.
type Parser struct {
	validate *validator.Validate
}

// NewParser constructs a parser.
func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// ParseFile reads, validates, and flattens a blueprint file.
func (p *Parser) ParseFile(path string, gen *naming.Generator) ([]engine.ResourceSpec, error) {
	bp, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(bp, gen)
}

// Load reads and validates a blueprint document without flattening it.
func (p *Parser) Load(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("reading blueprint: %v", err), err)
	}

	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("blueprint is not valid JSON: %v", err), err)
	}
	if err := p.validate.Struct(&bp); err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("blueprint failed validation: %v", err), err)
	}
	if bp.Scope != nil {
		if err := bp.Scope.Validate(); err != nil {
			return nil, engine.NewValidationError(err.Error(), err)
		}
	}
	return &bp, nil
}

// Parse flattens a blueprint into resource specs with generated names and
// dependency edges, honoring the blueprint's scope filter.
func (p *Parser) Parse(bp *Blueprint, gen *naming.Generator) ([]engine.ResourceSpec, error) {
	var specs []engine.ResourceSpec

	if bp.Resources.AWS != nil {
		aws, err := p.parseAWS(bp, gen)
		if err != nil {
			return nil, err
		}
		specs = append(specs, aws...)
	}
	if bp.Resources.Databricks != nil {
		dbx, err := p.parseDatabricks(bp, gen)
		if err != nil {
			return nil, err
		}
		specs = append(specs, dbx...)
	}

	if len(specs) == 0 {
		return nil, engine.NewValidationError("blueprint contains no resources in scope", nil)
	}
	return specs, nil
}

func (p *Parser) parseAWS(bp *Blueprint, gen *naming.Generator) ([]engine.ResourceSpec, error) {
	var specs []engine.ResourceSpec
	aws := bp.Resources.AWS
	meta := bp.Metadata

	if bp.Scope.Allows(string(engine.ResourceS3Bucket)) {
		for _, bucket := range aws.S3Buckets {
			name, err := gen.Generate(string(engine.ResourceS3Bucket), map[string]string{
				"purpose": bucket.Purpose,
				"layer":   bucket.Layer,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			versioning := true
			if bucket.Versioning != nil {
				versioning = *bucket.Versioning
			}
			lifecycle := bucket.LifecycleDays
			if lifecycle == 0 {
				lifecycle = defaultLifecycle
			}
			params, err := marshalParams(BucketParams{
				Region:        meta.Region,
				Versioning:    versioning,
				LifecycleDays: lifecycle,
				Tags:          buildTags(meta),
			})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:   engine.ResourceS3Bucket,
				Name:   name,
				Kind:   engine.KindCreate,
				Params: params,
			})
		}
	}

	// Tables reference databases by "{domain}-{layer}".
	dbRefs := make(map[string]string)
	if bp.Scope.Allows(string(engine.ResourceGlueDatabase)) {
		for _, db := range aws.GlueDatabases {
			name, err := gen.Generate(string(engine.ResourceGlueDatabase), map[string]string{
				"domain": db.Domain,
				"layer":  db.Layer,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			dbRefs[db.Domain+"-"+db.Layer] = name

			params, err := marshalParams(DatabaseParams{Description: db.Description})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:   engine.ResourceGlueDatabase,
				Name:   name,
				Kind:   engine.KindCreate,
				Params: params,
			})
		}
	}

	if bp.Scope.Allows(string(engine.ResourceGlueTable)) {
		for _, table := range aws.GlueTables {
			dbName, ok := dbRefs[table.DatabaseRef]
			if !ok {
				return nil, engine.NewValidationError(
					fmt.Sprintf("glue table %q references unknown database %q", table.Entity, table.DatabaseRef), nil)
			}
			tableType := table.TableType
			if tableType == "" {
				tableType = defaultTableType
			}
			name, err := gen.Generate(string(engine.ResourceGlueTable), map[string]string{
				"table_type": tableType,
				"entity":     table.Entity,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			params, err := marshalParams(TableParams{
				DatabaseName:  dbName,
				Columns:       table.Columns,
				PartitionKeys: table.PartitionKeys,
			})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:      engine.ResourceGlueTable,
				Name:      name,
				Kind:      engine.KindCreate,
				Params:    params,
				DependsOn: []string{dbName},
			})
		}
	}

	return specs, nil
}

func (p *Parser) parseDatabricks(bp *Blueprint, gen *naming.Generator) ([]engine.ResourceSpec, error) {
	var specs []engine.ResourceSpec
	dbx := bp.Resources.Databricks
	meta := bp.Metadata

	// Jobs reference clusters by workload.
	clusterRefs := make(map[string]string)
	if bp.Scope.Allows(string(engine.ResourceDBXCluster)) {
		for _, cluster := range dbx.Clusters {
			name, err := gen.Generate(string(engine.ResourceDBXCluster), map[string]string{
				"workload":     cluster.Workload,
				"cluster_type": cluster.ClusterType,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			clusterRefs[cluster.Workload] = name

			sparkVersion := cluster.SparkVersion
			if sparkVersion == "" {
				sparkVersion = defaultSparkVersion
			}
			autoscale := Autoscale{Min: 2, Max: 8}
			if cluster.Autoscale != nil {
				autoscale = *cluster.Autoscale
			}
			params, err := marshalParams(ClusterParams{
				SparkVersion: sparkVersion,
				NodeType:     cluster.NodeType,
				Autoscale:    autoscale,
				Tags:         buildTags(meta),
			})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:   engine.ResourceDBXCluster,
				Name:   name,
				Kind:   engine.KindCreate,
				Params: params,
			})
		}
	}

	if bp.Scope.Allows(string(engine.ResourceDBXJob)) {
		for _, job := range dbx.Jobs {
			name, err := gen.Generate(string(engine.ResourceDBXJob), map[string]string{
				"job_type": job.JobType,
				"purpose":  job.Purpose,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			var deps []string
			if clusterName, ok := clusterRefs[job.ClusterRef]; ok {
				deps = append(deps, clusterName)
			}
			params, err := marshalParams(JobParams{
				Tasks:    job.Tasks,
				Schedule: job.Schedule,
				Tags:     buildTags(meta),
			})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:      engine.ResourceDBXJob,
				Name:      name,
				Kind:      engine.KindCreate,
				Params:    params,
				DependsOn: deps,
			})
		}
	}

	if dbx.UnityCatalog != nil {
		uc, err := p.parseUnityCatalog(bp, gen)
		if err != nil {
			return nil, err
		}
		specs = append(specs, uc...)
	}

	return specs, nil
}

// parseUnityCatalog flattens the catalog/schema/table hierarchy. Schemas
// and tables get dotted request names so sibling subtrees cannot collide;
// executors receive the bare object names in params.
func (p *Parser) parseUnityCatalog(bp *Blueprint, gen *naming.Generator) ([]engine.ResourceSpec, error) {
	var specs []engine.ResourceSpec

	for _, catalog := range bp.Resources.Databricks.UnityCatalog.Catalogs {
		catalogName, err := gen.Generate(string(engine.ResourceDBXCatalog), map[string]string{
			"catalog_type": catalog.CatalogType,
		})
		if err != nil {
			return nil, engine.NewValidationError(err.Error(), err)
		}

		if bp.Scope.Allows(string(engine.ResourceDBXCatalog)) {
			params, err := marshalParams(CatalogParams{
				Name:        catalogName,
				StorageRoot: catalog.StorageRoot,
			})
			if err != nil {
				return nil, err
			}
			specs = append(specs, engine.ResourceSpec{
				Type:   engine.ResourceDBXCatalog,
				Name:   catalogName,
				Kind:   engine.KindCreate,
				Params: params,
			})
		}

		for _, schema := range catalog.Schemas {
			schemaName, err := gen.Generate(string(engine.ResourceDBXSchema), map[string]string{
				"domain": schema.Domain,
				"layer":  schema.Layer,
			})
			if err != nil {
				return nil, engine.NewValidationError(err.Error(), err)
			}
			qualifiedSchema := catalogName + "." + schemaName

			if bp.Scope.Allows(string(engine.ResourceDBXSchema)) {
				params, err := marshalParams(SchemaParams{
					CatalogName: catalogName,
					Name:        schemaName,
				})
				if err != nil {
					return nil, err
				}
				specs = append(specs, engine.ResourceSpec{
					Type:      engine.ResourceDBXSchema,
					Name:      qualifiedSchema,
					Kind:      engine.KindCreate,
					Params:    params,
					DependsOn: []string{catalogName},
				})
			}

			if !bp.Scope.Allows(string(engine.ResourceDBXTable)) {
				continue
			}
			for _, table := range schema.Tables {
				tableType := table.TableType
				if tableType == "" {
					tableType = defaultTableType
				}
				tableName, err := gen.Generate(string(engine.ResourceDBXTable), map[string]string{
					"table_type": tableType,
					"entity":     table.Entity,
				})
				if err != nil {
					return nil, engine.NewValidationError(err.Error(), err)
				}
				params, err := marshalParams(UCTableParams{
					CatalogName: catalogName,
					SchemaName:  schemaName,
					Name:        tableName,
					Columns:     table.Columns,
				})
				if err != nil {
					return nil, err
				}
				specs = append(specs, engine.ResourceSpec{
					Type:      engine.ResourceDBXTable,
					Name:      qualifiedSchema + "." + tableName,
					Kind:      engine.KindCreate,
					Params:    params,
					DependsOn: []string{qualifiedSchema},
				})
			}
		}
	}

	return specs, nil
}

// buildTags derives the standard provider tags from blueprint metadata.
func buildTags(meta Metadata) map[string]string {
	tags := map[string]string{
		"Environment": meta.Environment,
		"Project":     meta.Project,
		"ManagedBy":   "dpn",
	}
	if meta.Team != "" {
		tags["Team"] = meta.Team
	}
	if meta.CostCenter != "" {
		tags["CostCenter"] = meta.CostCenter
	}
	return tags
}

func marshalParams(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, engine.NewInternalError("encoding resource params", err)
	}
	return data, nil
}
