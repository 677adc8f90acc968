package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

type jobParams struct {
	Tasks    json.RawMessage   `json:"tasks,omitempty"`
	Schedule string            `json:"schedule,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type jobSnapshot struct {
	JobID   int64  `json:"job_id"`
	JobName string `json:"job_name"`
}

// JobExecutor provisions jobs via /api/2.1/jobs.
type JobExecutor struct {
	client *Client
	logger zerolog.Logger
}

// NewJobExecutor constructs the job executor.
func NewJobExecutor(client *Client, logger zerolog.Logger) *JobExecutor {
	return &JobExecutor{client: client, logger: logger.With().Str("provider", "dbx_job").Logger()}
}

func (e *JobExecutor) Execute(ctx context.Context, op *engine.Operation) (*engine.ExecuteResult, error) {
	var params jobParams
	if err := json.Unmarshal(op.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid job params: %w", err)
	}

	req := map[string]any{
		"name":                op.ResourceName,
		"max_concurrent_runs": 1,
	}
	if len(params.Tasks) > 0 {
		req["tasks"] = params.Tasks
	}
	if params.Schedule != "" {
		req["schedule"] = map[string]string{
			"quartz_cron_expression": params.Schedule,
			"timezone_id":            "UTC",
		}
	}
	if len(params.Tags) > 0 {
		req["tags"] = params.Tags
	}

	var resp struct {
		JobID int64 `json:"job_id"`
	}
	if err := e.client.do(ctx, http.MethodPost, "/api/2.1/jobs/create", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create job %s: %w", op.ResourceName, err)
	}
	e.logger.Info().Str("job", op.ResourceName).Int64("job_id", resp.JobID).Msg("job created")

	snapshot, err := json.Marshal(jobSnapshot{JobID: resp.JobID, JobName: op.ResourceName})
	if err != nil {
		return nil, fmt.Errorf("encoding rollback snapshot: %w", err)
	}
	return &engine.ExecuteResult{RollbackData: snapshot, ProviderMeta: snapshot}, nil
}

// Rollback deletes the job. A job that is already gone counts as success.
func (e *JobExecutor) Rollback(ctx context.Context, op *engine.Operation) error {
	if len(op.RollbackData) == 0 {
		return nil
	}
	var snapshot jobSnapshot
	if err := json.Unmarshal(op.RollbackData, &snapshot); err != nil {
		return fmt.Errorf("invalid rollback snapshot: %w", err)
	}

	req := map[string]int64{"job_id": snapshot.JobID}
	err := e.client.do(ctx, http.MethodPost, "/api/2.1/jobs/delete", req, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete job %s: %w", snapshot.JobName, err)
	}
	return nil
}
