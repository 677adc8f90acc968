// Package aws implements the provisioning executors for AWS resources.
// Each executor performs the provider calls for one resource type and
// knows how to undo them from the rollback snapshot it returned.
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LoadConfig resolves AWS credentials and region through the default
// chain, optionally pinned to a shared-credentials profile.
func LoadConfig(ctx context.Context, region, profile string) (awssdk.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// NewS3Client builds the S3 client used by the bucket executor.
func NewS3Client(cfg awssdk.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// NewGlueClient builds the Glue client used by the database and table
// executors.
func NewGlueClient(cfg awssdk.Config) *glue.Client {
	return glue.NewFromConfig(cfg)
}
