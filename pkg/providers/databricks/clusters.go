package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

type clusterParams struct {
	SparkVersion string            `json:"spark_version"`
	NodeType     string            `json:"node_type"`
	Autoscale    autoscale         `json:"autoscale"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type autoscale struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type clusterSnapshot struct {
	ClusterID   string `json:"cluster_id"`
	ClusterName string `json:"cluster_name"`
}

// ClusterExecutor provisions all-purpose clusters via /api/2.0/clusters.
type ClusterExecutor struct {
	client *Client
	logger zerolog.Logger
}

// NewClusterExecutor constructs the cluster executor.
func NewClusterExecutor(client *Client, logger zerolog.Logger) *ClusterExecutor {
	return &ClusterExecutor{client: client, logger: logger.With().Str("provider", "dbx_cluster").Logger()}
}

func (e *ClusterExecutor) Execute(ctx context.Context, op *engine.Operation) (*engine.ExecuteResult, error) {
	var params clusterParams
	if err := json.Unmarshal(op.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid cluster params: %w", err)
	}

	req := map[string]any{
		"cluster_name":  op.ResourceName,
		"spark_version": params.SparkVersion,
		"node_type_id":  params.NodeType,
		"autoscale": map[string]int{
			"min_workers": params.Autoscale.Min,
			"max_workers": params.Autoscale.Max,
		},
		"autotermination_minutes": 120,
	}
	if len(params.Tags) > 0 {
		req["custom_tags"] = params.Tags
	}

	var resp struct {
		ClusterID string `json:"cluster_id"`
	}
	if err := e.client.do(ctx, http.MethodPost, "/api/2.0/clusters/create", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create cluster %s: %w", op.ResourceName, err)
	}
	e.logger.Info().Str("cluster", op.ResourceName).Str("cluster_id", resp.ClusterID).Msg("cluster created")

	snapshot, err := json.Marshal(clusterSnapshot{ClusterID: resp.ClusterID, ClusterName: op.ResourceName})
	if err != nil {
		return nil, fmt.Errorf("encoding rollback snapshot: %w", err)
	}
	return &engine.ExecuteResult{RollbackData: snapshot, ProviderMeta: snapshot}, nil
}

// Rollback permanently deletes the cluster. A cluster that is already gone
// counts as success.
func (e *ClusterExecutor) Rollback(ctx context.Context, op *engine.Operation) error {
	if len(op.RollbackData) == 0 {
		return nil
	}
	var snapshot clusterSnapshot
	if err := json.Unmarshal(op.RollbackData, &snapshot); err != nil {
		return fmt.Errorf("invalid rollback snapshot: %w", err)
	}

	req := map[string]string{"cluster_id": snapshot.ClusterID}
	err := e.client.do(ctx, http.MethodPost, "/api/2.0/clusters/permanent-delete", req, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete cluster %s: %w", snapshot.ClusterName, err)
	}
	return nil
}
