package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

// S3API is the subset of the S3 client the bucket executor calls.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, opts ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, in *s3.PutBucketEncryptionInput, opts ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, opts ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	PutBucketTagging(ctx context.Context, in *s3.PutBucketTaggingInput, opts ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
	PutPublicAccessBlock(ctx context.Context, in *s3.PutPublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, opts ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// bucketParams mirrors the params payload produced by the blueprint
// parser for aws_s3_bucket operations.
type bucketParams struct {
	Region        string            `json:"region"`
	Versioning    bool              `json:"versioning"`
	LifecycleDays int               `json:"lifecycle_days"`
	Tags          map[string]string `json:"tags"`
}

// bucketSnapshot is the rollback payload for a created bucket.
type bucketSnapshot struct {
	BucketName string `json:"bucket_name"`
	Region     string `json:"region"`
}

// S3Executor provisions S3 buckets.
type S3Executor struct {
	client S3API
	logger zerolog.Logger
}

// NewS3Executor constructs the bucket executor.
func NewS3Executor(client S3API, logger zerolog.Logger) *S3Executor {
	return &S3Executor{client: client, logger: logger.With().Str("provider", "aws_s3").Logger()}
}

// Execute creates the bucket and applies versioning, default encryption,
// lifecycle transitions, tags, and the public access block.
func (e *S3Executor) Execute(ctx context.Context, op *engine.Operation) (*engine.ExecuteResult, error) {
	var params bucketParams
	if err := json.Unmarshal(op.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid bucket params: %w", err)
	}
	bucket := op.ResourceName
	region := params.Region
	if region == "" {
		region = "us-east-1"
	}

	in := &s3.CreateBucketInput{Bucket: awssdk.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	if _, err := e.client.CreateBucket(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	e.logger.Info().Str("bucket", bucket).Str("region", region).Msg("bucket created")

	if params.Versioning {
		_, err := e.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: awssdk.String(bucket),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable versioning on %s: %w", bucket, err)
		}
	}

	_, err := e.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: awssdk.String(bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable encryption on %s: %w", bucket, err)
	}

	if params.LifecycleDays > 0 {
		_, err := e.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket: awssdk.String(bucket),
			LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{
				Rules: []s3types.LifecycleRule{{
					Status: s3types.ExpirationStatusEnabled,
					Filter: &s3types.LifecycleRuleFilter{Prefix: awssdk.String("")},
					Transitions: []s3types.Transition{{
						Days:         awssdk.Int32(int32(params.LifecycleDays)),
						StorageClass: s3types.TransitionStorageClassIntelligentTiering,
					}},
				}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set lifecycle on %s: %w", bucket, err)
		}
	}

	if len(params.Tags) > 0 {
		tagSet := make([]s3types.Tag, 0, len(params.Tags))
		for k, v := range params.Tags {
			tagSet = append(tagSet, s3types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
		}
		_, err := e.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  awssdk.String(bucket),
			Tagging: &s3types.Tagging{TagSet: tagSet},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag %s: %w", bucket, err)
		}
	}

	_, err = e.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: awssdk.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       awssdk.Bool(true),
			IgnorePublicAcls:      awssdk.Bool(true),
			BlockPublicPolicy:     awssdk.Bool(true),
			RestrictPublicBuckets: awssdk.Bool(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to block public access on %s: %w", bucket, err)
	}

	snapshot, err := json.Marshal(bucketSnapshot{BucketName: bucket, Region: region})
	if err != nil {
		return nil, fmt.Errorf("encoding rollback snapshot: %w", err)
	}
	return &engine.ExecuteResult{RollbackData: snapshot, ProviderMeta: snapshot}, nil
}

// Rollback empties and deletes the bucket. A bucket that is already gone
// counts as success so retried rollbacks converge.
func (e *S3Executor) Rollback(ctx context.Context, op *engine.Operation) error {
	if len(op.RollbackData) == 0 {
		return nil
	}
	var snapshot bucketSnapshot
	if err := json.Unmarshal(op.RollbackData, &snapshot); err != nil {
		return fmt.Errorf("invalid rollback snapshot: %w", err)
	}
	bucket := snapshot.BucketName

	if err := e.emptyBucket(ctx, bucket); err != nil {
		if isNoSuchBucket(err) {
			return nil
		}
		return fmt.Errorf("failed to empty bucket %s: %w", bucket, err)
	}

	if _, err := e.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awssdk.String(bucket)}); err != nil {
		if isNoSuchBucket(err) {
			return nil
		}
		return fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
	}
	e.logger.Info().Str("bucket", bucket).Msg("bucket deleted")
	return nil
}

// emptyBucket pages through and batch-deletes every object.
func (e *S3Executor) emptyBucket(ctx context.Context, bucket string) error {
	var token *string
	for {
		page, err := e.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}
		if len(page.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = e.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: awssdk.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: awssdk.Bool(true)},
			})
			if err != nil {
				return err
			}
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func isNoSuchBucket(err error) bool {
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchBucket" || code == "NotFound"
	}
	return false
}
