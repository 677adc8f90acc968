package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

type fakeS3 struct {
	createInput    *s3.CreateBucketInput
	versioningSet  bool
	encryptionSet  bool
	lifecycleSet   bool
	taggingInput   *s3.PutBucketTaggingInput
	publicBlockSet bool
	deletedBucket  string
	deletedObjects int
	objects        []string

	createErr error
	deleteErr error
	listErr   error
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createInput = in
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutBucketVersioning(_ context.Context, _ *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.versioningSet = true
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *fakeS3) PutBucketEncryption(_ context.Context, _ *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	f.encryptionSet = true
	return &s3.PutBucketEncryptionOutput{}, nil
}

func (f *fakeS3) PutBucketLifecycleConfiguration(_ context.Context, _ *s3.PutBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	f.lifecycleSet = true
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (f *fakeS3) PutBucketTagging(_ context.Context, in *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	f.taggingInput = in
	return &s3.PutBucketTaggingOutput{}, nil
}

func (f *fakeS3) PutPublicAccessBlock(_ context.Context, _ *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	f.publicBlockSet = true
	return &s3.PutPublicAccessBlockOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	contents := make([]s3types.Object, 0, len(f.objects))
	for _, key := range f.objects {
		contents = append(contents, s3types.Object{Key: awssdk.String(key)})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: awssdk.Bool(false)}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deletedObjects += len(in.Delete.Objects)
	f.objects = nil
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletedBucket = awssdk.ToString(in.Bucket)
	return &s3.DeleteBucketOutput{}, nil
}

func bucketOp(t *testing.T, name string, params bucketParams) *engine.Operation {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Failed to marshal params: %v", err)
	}
	return &engine.Operation{
		Kind:         engine.KindCreate,
		ResourceType: engine.ResourceS3Bucket,
		ResourceName: name,
		Params:       raw,
	}
}

func TestS3Executor_Execute(t *testing.T) {
	fake := &fakeS3{}
	ex := NewS3Executor(fake, zerolog.Nop())

	result, err := ex.Execute(context.Background(), bucketOp(t, "dp-sales-raw-prd-euw1", bucketParams{
		Region:        "eu-west-1",
		Versioning:    true,
		LifecycleDays: 90,
		Tags:          map[string]string{"Project": "dp"},
	}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if fake.createInput.CreateBucketConfiguration == nil ||
		fake.createInput.CreateBucketConfiguration.LocationConstraint != s3types.BucketLocationConstraint("eu-west-1") {
		t.Error("Expected location constraint for non-default region")
	}
	if !fake.versioningSet {
		t.Error("Expected versioning enabled")
	}
	if !fake.encryptionSet {
		t.Error("Expected default encryption")
	}
	if !fake.lifecycleSet {
		t.Error("Expected lifecycle configuration")
	}
	if fake.taggingInput == nil || len(fake.taggingInput.Tagging.TagSet) != 1 {
		t.Error("Expected bucket tags")
	}
	if !fake.publicBlockSet {
		t.Error("Expected public access block")
	}

	var snapshot bucketSnapshot
	if err := json.Unmarshal(result.RollbackData, &snapshot); err != nil {
		t.Fatalf("Bad rollback snapshot: %v", err)
	}
	if snapshot.BucketName != "dp-sales-raw-prd-euw1" || snapshot.Region != "eu-west-1" {
		t.Errorf("Wrong snapshot: %+v", snapshot)
	}
}

func TestS3Executor_ExecuteDefaultRegion(t *testing.T) {
	fake := &fakeS3{}
	ex := NewS3Executor(fake, zerolog.Nop())

	_, err := ex.Execute(context.Background(), bucketOp(t, "dp-logs-raw-prd-use1", bucketParams{
		Region: "us-east-1",
	}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// us-east-1 must not send a location constraint.
	if fake.createInput.CreateBucketConfiguration != nil {
		t.Error("Expected no location constraint for us-east-1")
	}
	if fake.versioningSet {
		t.Error("Versioning must stay off when not requested")
	}
	if fake.lifecycleSet {
		t.Error("Lifecycle must stay off when not requested")
	}
}

func TestS3Executor_ExecuteFailure(t *testing.T) {
	fake := &fakeS3{createErr: errors.New("TooManyBuckets")}
	ex := NewS3Executor(fake, zerolog.Nop())

	if _, err := ex.Execute(context.Background(), bucketOp(t, "b", bucketParams{Region: "us-east-1"})); err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestS3Executor_Rollback(t *testing.T) {
	fake := &fakeS3{objects: []string{"a.parquet", "b.parquet"}}
	ex := NewS3Executor(fake, zerolog.Nop())

	snapshot, _ := json.Marshal(bucketSnapshot{BucketName: "dp-sales-raw-prd-use1", Region: "us-east-1"})
	op := &engine.Operation{ResourceName: "dp-sales-raw-prd-use1", RollbackData: snapshot}

	if err := ex.Rollback(context.Background(), op); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if fake.deletedObjects != 2 {
		t.Errorf("Expected bucket emptied before delete, removed %d objects", fake.deletedObjects)
	}
	if fake.deletedBucket != "dp-sales-raw-prd-use1" {
		t.Errorf("Expected bucket deleted, got %q", fake.deletedBucket)
	}
}

func TestS3Executor_RollbackToleratesMissingBucket(t *testing.T) {
	missing := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}
	fake := &fakeS3{listErr: missing, deleteErr: missing}
	ex := NewS3Executor(fake, zerolog.Nop())

	snapshot, _ := json.Marshal(bucketSnapshot{BucketName: "ghost"})
	op := &engine.Operation{ResourceName: "ghost", RollbackData: snapshot}

	if err := ex.Rollback(context.Background(), op); err != nil {
		t.Errorf("Rollback of a missing bucket must succeed, got: %v", err)
	}
}

func TestS3Executor_RollbackWithoutSnapshot(t *testing.T) {
	fake := &fakeS3{}
	ex := NewS3Executor(fake, zerolog.Nop())

	if err := ex.Rollback(context.Background(), &engine.Operation{ResourceName: "never-created"}); err != nil {
		t.Errorf("Rollback without a snapshot must be a no-op, got: %v", err)
	}
	if fake.deletedBucket != "" {
		t.Error("No delete call expected without a snapshot")
	}
}
