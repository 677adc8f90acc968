package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

// fakeWorkspace is an httptest-backed workspace API double.
type fakeWorkspace struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  map[string]handlerFunc
}

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

type handlerFunc func(w http.ResponseWriter, body map[string]any)

func newFakeWorkspace(t *testing.T) (*fakeWorkspace, *Client) {
	t.Helper()
	fw := &fakeWorkspace{respond: make(map[string]handlerFunc)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		fw.mu.Lock()
		fw.requests = append(fw.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		handler := fw.respond[r.Method+" "+r.URL.Path]
		fw.mu.Unlock()

		if handler != nil {
			handler(w, body)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "test-token", 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return fw, client
}

func (f *fakeWorkspace) on(method, path string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond[method+" "+path] = h
}

func (f *fakeWorkspace) calls(method, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func respondJSON(payload string) handlerFunc {
	return func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}
}

func respondError(status int, errorCode, message string) handlerFunc {
	return func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(APIError{ErrorCode: errorCode, Message: message})
	}
}

func TestNewClient_Validation(t *testing.T) {
	cases := []struct {
		name  string
		host  string
		token string
	}{
		{"empty host", "", "tok"},
		{"empty token", "https://example.com", ""},
		{"bad host", "not a url", "tok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(tc.host, tc.token, time.Second); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestClusterExecutor_Execute(t *testing.T) {
	fw, client := newFakeWorkspace(t)
	fw.on(http.MethodPost, "/api/2.0/clusters/create", respondJSON(`{"cluster_id": "0830-abc123"}`))

	params, _ := json.Marshal(clusterParams{
		SparkVersion: "13.3.x-scala2.12",
		NodeType:     "r5.xlarge",
		Autoscale:    autoscale{Min: 2, Max: 8},
		Tags:         map[string]string{"Project": "dp"},
	})
	ex := NewClusterExecutor(client, zerolog.Nop())
	result, err := ex.Execute(context.Background(), &engine.Operation{
		ResourceType: engine.ResourceDBXCluster,
		ResourceName: "dp-etl-shared-prd",
		Params:       params,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	calls := fw.calls(http.MethodPost, "/api/2.0/clusters/create")
	if len(calls) != 1 {
		t.Fatalf("Expected 1 create call, got %d", len(calls))
	}
	body := calls[0].Body
	if body["cluster_name"] != "dp-etl-shared-prd" {
		t.Errorf("Wrong cluster name: %v", body["cluster_name"])
	}
	if body["node_type_id"] != "r5.xlarge" {
		t.Errorf("Wrong node type: %v", body["node_type_id"])
	}
	scale, ok := body["autoscale"].(map[string]any)
	if !ok || scale["min_workers"] != float64(2) || scale["max_workers"] != float64(8) {
		t.Errorf("Wrong autoscale: %v", body["autoscale"])
	}

	var snapshot clusterSnapshot
	if err := json.Unmarshal(result.RollbackData, &snapshot); err != nil {
		t.Fatalf("Bad snapshot: %v", err)
	}
	if snapshot.ClusterID != "0830-abc123" {
		t.Errorf("Expected cluster id in snapshot, got %+v", snapshot)
	}
}

func TestClusterExecutor_ExecuteAPIError(t *testing.T) {
	fw, client := newFakeWorkspace(t)
	fw.on(http.MethodPost, "/api/2.0/clusters/create",
		respondError(http.StatusBadRequest, "INVALID_PARAMETER_VALUE", "bad node type"))

	params, _ := json.Marshal(clusterParams{SparkVersion: "13.3.x-scala2.12", NodeType: "bogus"})
	_, err := NewClusterExecutor(client, zerolog.Nop()).Execute(context.Background(), &engine.Operation{
		ResourceName: "c",
		Params:       params,
	})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != "INVALID_PARAMETER_VALUE" {
		t.Errorf("Expected structured API error, got: %v", err)
	}
}

func TestClusterExecutor_Rollback(t *testing.T) {
	fw, client := newFakeWorkspace(t)

	snapshot, _ := json.Marshal(clusterSnapshot{ClusterID: "0830-abc123", ClusterName: "dp-etl-shared-prd"})
	ex := NewClusterExecutor(client, zerolog.Nop())
	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: snapshot}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	calls := fw.calls(http.MethodPost, "/api/2.0/clusters/permanent-delete")
	if len(calls) != 1 || calls[0].Body["cluster_id"] != "0830-abc123" {
		t.Errorf("Expected permanent-delete call, got %+v", calls)
	}
}

func TestClusterExecutor_RollbackToleratesMissing(t *testing.T) {
	fw, client := newFakeWorkspace(t)
	fw.on(http.MethodPost, "/api/2.0/clusters/permanent-delete",
		respondError(http.StatusBadRequest, "RESOURCE_DOES_NOT_EXIST", "cluster gone"))

	snapshot, _ := json.Marshal(clusterSnapshot{ClusterID: "gone"})
	ex := NewClusterExecutor(client, zerolog.Nop())
	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: snapshot}); err != nil {
		t.Errorf("Rollback of a missing cluster must succeed, got: %v", err)
	}
}

func TestJobExecutor_Execute(t *testing.T) {
	fw, client := newFakeWorkspace(t)
	fw.on(http.MethodPost, "/api/2.1/jobs/create", respondJSON(`{"job_id": 42}`))

	params, _ := json.Marshal(jobParams{
		Schedule: "0 0 2 * * ?",
		Tags:     map[string]string{"Project": "dp"},
	})
	ex := NewJobExecutor(client, zerolog.Nop())
	result, err := ex.Execute(context.Background(), &engine.Operation{
		ResourceType: engine.ResourceDBXJob,
		ResourceName: "dp-batch-ingest-prd",
		Params:       params,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	calls := fw.calls(http.MethodPost, "/api/2.1/jobs/create")
	if len(calls) != 1 {
		t.Fatalf("Expected 1 create call, got %d", len(calls))
	}
	body := calls[0].Body
	if body["name"] != "dp-batch-ingest-prd" {
		t.Errorf("Wrong job name: %v", body["name"])
	}
	sched, ok := body["schedule"].(map[string]any)
	if !ok || sched["quartz_cron_expression"] != "0 0 2 * * ?" {
		t.Errorf("Wrong schedule: %v", body["schedule"])
	}

	var snapshot jobSnapshot
	if err := json.Unmarshal(result.RollbackData, &snapshot); err != nil {
		t.Fatalf("Bad snapshot: %v", err)
	}
	if snapshot.JobID != 42 {
		t.Errorf("Expected job id 42, got %+v", snapshot)
	}
}

func TestJobExecutor_Rollback(t *testing.T) {
	fw, client := newFakeWorkspace(t)

	snapshot, _ := json.Marshal(jobSnapshot{JobID: 42, JobName: "dp-batch-ingest-prd"})
	ex := NewJobExecutor(client, zerolog.Nop())
	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: snapshot}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	calls := fw.calls(http.MethodPost, "/api/2.1/jobs/delete")
	if len(calls) != 1 || calls[0].Body["job_id"] != float64(42) {
		t.Errorf("Expected delete call with job id, got %+v", calls)
	}
}

func TestCatalogExecutor_ExecuteAndRollback(t *testing.T) {
	fw, client := newFakeWorkspace(t)

	params, _ := json.Marshal(catalogParams{Name: "dataplatform_prd", StorageRoot: "s3://dp-uc-root"})
	ex := NewCatalogExecutor(client, zerolog.Nop())
	result, err := ex.Execute(context.Background(), &engine.Operation{
		ResourceType: engine.ResourceDBXCatalog,
		ResourceName: "dataplatform_prd",
		Params:       params,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	creates := fw.calls(http.MethodPost, "/api/2.1/unity-catalog/catalogs")
	if len(creates) != 1 || creates[0].Body["storage_root"] != "s3://dp-uc-root" {
		t.Errorf("Expected catalog create with storage root, got %+v", creates)
	}

	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: result.RollbackData}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	deletes := fw.calls(http.MethodDelete, "/api/2.1/unity-catalog/catalogs/dataplatform_prd")
	if len(deletes) != 1 {
		t.Errorf("Expected catalog delete, got %+v", fw.requests)
	}
}

func TestSchemaExecutor_ExecuteAndRollback(t *testing.T) {
	fw, client := newFakeWorkspace(t)

	params, _ := json.Marshal(schemaParams{CatalogName: "dataplatform_prd", Name: "sales_bronze"})
	ex := NewSchemaExecutor(client, zerolog.Nop())
	result, err := ex.Execute(context.Background(), &engine.Operation{
		ResourceType: engine.ResourceDBXSchema,
		ResourceName: "dataplatform_prd.sales_bronze",
		Params:       params,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	creates := fw.calls(http.MethodPost, "/api/2.1/unity-catalog/schemas")
	if len(creates) != 1 || creates[0].Body["catalog_name"] != "dataplatform_prd" || creates[0].Body["name"] != "sales_bronze" {
		t.Errorf("Expected schema create, got %+v", creates)
	}

	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: result.RollbackData}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	deletes := fw.calls(http.MethodDelete, "/api/2.1/unity-catalog/schemas/dataplatform_prd.sales_bronze")
	if len(deletes) != 1 {
		t.Errorf("Expected schema delete by full name, got %+v", fw.requests)
	}
}

func TestUCTableExecutor_ExecuteAndRollback(t *testing.T) {
	fw, client := newFakeWorkspace(t)

	params, _ := json.Marshal(ucTableParams{
		CatalogName: "dataplatform_prd",
		SchemaName:  "sales_bronze",
		Name:        "fact_orders",
		Columns:     json.RawMessage(`[{"name": "order_id", "type_text": "string"}]`),
	})
	ex := NewUCTableExecutor(client, zerolog.Nop())
	result, err := ex.Execute(context.Background(), &engine.Operation{
		ResourceType: engine.ResourceDBXTable,
		ResourceName: "dataplatform_prd.sales_bronze.fact_orders",
		Params:       params,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	creates := fw.calls(http.MethodPost, "/api/2.1/unity-catalog/tables")
	if len(creates) != 1 {
		t.Fatalf("Expected 1 table create, got %d", len(creates))
	}
	body := creates[0].Body
	if body["table_type"] != "MANAGED" || body["data_source_format"] != "DELTA" {
		t.Errorf("Expected managed delta table, got %+v", body)
	}

	if err := ex.Rollback(context.Background(), &engine.Operation{RollbackData: result.RollbackData}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	deletes := fw.calls(http.MethodDelete, "/api/2.1/unity-catalog/tables/dataplatform_prd.sales_bronze.fact_orders")
	if len(deletes) != 1 {
		t.Errorf("Expected table delete by full name, got %+v", fw.requests)
	}
}

func TestUCExecutors_MissingCoordinates(t *testing.T) {
	_, client := newFakeWorkspace(t)

	schemaParams, _ := json.Marshal(map[string]string{"name": "orphan"})
	if _, err := NewSchemaExecutor(client, zerolog.Nop()).Execute(context.Background(), &engine.Operation{
		ResourceName: "orphan", Params: schemaParams,
	}); err == nil {
		t.Error("Expected error for schema without catalog, got nil")
	}

	tableParams, _ := json.Marshal(map[string]string{"name": "orphan", "catalog_name": "c"})
	if _, err := NewUCTableExecutor(client, zerolog.Nop()).Execute(context.Background(), &engine.Operation{
		ResourceName: "orphan", Params: tableParams,
	}); err == nil {
		t.Error("Expected error for table without schema, got nil")
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 404, Message: "gone"}, true},
		{&APIError{StatusCode: 400, ErrorCode: "RESOURCE_DOES_NOT_EXIST"}, true},
		{&APIError{StatusCode: 404, ErrorCode: "CATALOG_DOES_NOT_EXIST"}, true},
		{&APIError{StatusCode: 400, ErrorCode: "INVALID_PARAMETER_VALUE"}, false},
		{errors.New("network down"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsNotFound(tc.err); got != tc.want {
			t.Errorf("IsNotFound(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
