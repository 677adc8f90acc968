package stores

import (
	"encoding/json"
	"time"
)

// ResourceRecord is the persisted registry entry for one provisioned
// resource. Records are created or updated only when a transaction
// commits, and archived rather than deleted.
type ResourceRecord struct {
	// ID is the registry key: "<resource_type>/<resource_name>".
	ID string `json:"id"`

	// Type is the resource type tag (aws_s3_bucket, dbx_cluster, ...).
	Type string `json:"type"`

	// Name is the fully resolved resource name.
	Name string `json:"name"`

	// ProviderMeta is opaque provider-assigned metadata (IDs, ARNs).
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Archived marks a soft-deleted record.
	Archived bool `json:"archived"`
}

// RecordID builds the registry key for a resource.
func RecordID(resourceType, resourceName string) string {
	return resourceType + "/" + resourceName
}

// ListFilter narrows List results.
type ListFilter struct {
	// Type restricts results to one resource type when non-empty.
	Type string

	// IncludeArchived includes soft-deleted records.
	IncludeArchived bool
}
