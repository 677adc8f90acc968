// Package blueprint turns declarative JSON blueprints into ordered
// resource requests. A blueprint names the deployment context once in its
// metadata; resource names are derived from naming patterns, never written
// by hand, and cross-resource references (database_ref, cluster_ref, the
// catalog/schema/table hierarchy) become dependency edges.
package blueprint

import "encoding/json"

// Blueprint is the parsed on-disk document.
type Blueprint struct {
	Version   string    `json:"version" validate:"required,eq=1.0"`
	Metadata  Metadata  `json:"metadata" validate:"required"`
	Resources Resources `json:"resources"`
	Scope     *Scope    `json:"scope,omitempty"`
}

// Metadata carries the deployment context applied to every resource.
type Metadata struct {
	Environment        string `json:"environment" validate:"required,oneof=dev stg prd"`
	Project            string `json:"project" validate:"required,lowercase"`
	Region             string `json:"region" validate:"required"`
	Team               string `json:"team,omitempty"`
	CostCenter         string `json:"cost_center,omitempty"`
	DataClassification string `json:"data_classification,omitempty" validate:"omitempty,oneof=public internal confidential restricted"`
}

// Resources groups the provider sections.
type Resources struct {
	AWS        *AWSResources        `json:"aws,omitempty"`
	Databricks *DatabricksResources `json:"databricks,omitempty"`
}

// AWSResources lists the AWS resource requests.
type AWSResources struct {
	S3Buckets     []S3BucketSpec     `json:"s3_buckets,omitempty" validate:"dive"`
	GlueDatabases []GlueDatabaseSpec `json:"glue_databases,omitempty" validate:"dive"`
	GlueTables    []GlueTableSpec    `json:"glue_tables,omitempty" validate:"dive"`
}

// DatabricksResources lists the Databricks resource requests.
type DatabricksResources struct {
	Clusters     []ClusterSpec `json:"clusters,omitempty" validate:"dive"`
	Jobs         []JobSpec     `json:"jobs,omitempty" validate:"dive"`
	UnityCatalog *UnityCatalog `json:"unity_catalog,omitempty"`
}

// UnityCatalog holds the catalog hierarchy.
type UnityCatalog struct {
	Catalogs []CatalogSpec `json:"catalogs,omitempty" validate:"dive"`
}

// S3BucketSpec requests one bucket.
type S3BucketSpec struct {
	Purpose       string `json:"purpose" validate:"required"`
	Layer         string `json:"layer" validate:"required,oneof=raw processed curated"`
	Versioning    *bool  `json:"versioning,omitempty"`
	LifecycleDays int    `json:"lifecycle_days,omitempty" validate:"omitempty,min=1"`
}

// GlueDatabaseSpec requests one Glue database. Tables reference it by
// "{domain}-{layer}".
type GlueDatabaseSpec struct {
	Domain      string `json:"domain" validate:"required"`
	Layer       string `json:"layer" validate:"required,oneof=bronze silver gold"`
	Description string `json:"description,omitempty"`
}

// GlueTableSpec requests one Glue table inside a referenced database.
type GlueTableSpec struct {
	DatabaseRef   string          `json:"database_ref" validate:"required"`
	Entity        string          `json:"entity" validate:"required"`
	TableType     string          `json:"table_type,omitempty" validate:"omitempty,oneof=fact dim bridge"`
	Columns       json.RawMessage `json:"columns" validate:"required"`
	PartitionKeys json.RawMessage `json:"partition_keys,omitempty"`
}

// ClusterSpec requests one cluster. Jobs reference it by workload.
type ClusterSpec struct {
	Workload     string     `json:"workload" validate:"required"`
	ClusterType  string     `json:"cluster_type" validate:"required,oneof=shared dedicated job"`
	NodeType     string     `json:"node_type" validate:"required"`
	SparkVersion string     `json:"spark_version,omitempty"`
	Autoscale    *Autoscale `json:"autoscale,omitempty"`
}

// Autoscale bounds a cluster's worker count.
type Autoscale struct {
	Min int `json:"min" validate:"min=1"`
	Max int `json:"max" validate:"gtefield=Min"`
}

// JobSpec requests one job bound to a cluster.
type JobSpec struct {
	JobType    string          `json:"job_type" validate:"required"`
	Purpose    string          `json:"purpose" validate:"required"`
	ClusterRef string          `json:"cluster_ref" validate:"required"`
	Schedule   string          `json:"schedule,omitempty"`
	Tasks      json.RawMessage `json:"tasks,omitempty"`
}

// CatalogSpec requests one Unity Catalog catalog and its schemas.
type CatalogSpec struct {
	CatalogType string       `json:"catalog_type" validate:"required"`
	StorageRoot string       `json:"storage_root,omitempty"`
	Schemas     []SchemaSpec `json:"schemas" validate:"required,min=1,dive"`
}

// SchemaSpec requests one schema inside its parent catalog.
type SchemaSpec struct {
	Domain string      `json:"domain" validate:"required"`
	Layer  string      `json:"layer" validate:"required,oneof=bronze silver gold"`
	Tables []TableSpec `json:"tables,omitempty" validate:"dive"`
}

// TableSpec requests one table inside its parent schema.
type TableSpec struct {
	Entity    string          `json:"entity" validate:"required"`
	TableType string          `json:"table_type,omitempty" validate:"omitempty,oneof=fact dim bridge"`
	Columns   json.RawMessage `json:"columns,omitempty"`
}
