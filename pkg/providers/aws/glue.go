package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/rs/zerolog"

	"github.com/dpnlabs/dpn/pkg/engine"
)

// GlueAPI is the subset of the Glue client the executors call.
type GlueAPI interface {
	CreateDatabase(ctx context.Context, in *glue.CreateDatabaseInput, opts ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error)
	DeleteDatabase(ctx context.Context, in *glue.DeleteDatabaseInput, opts ...func(*glue.Options)) (*glue.DeleteDatabaseOutput, error)
	CreateTable(ctx context.Context, in *glue.CreateTableInput, opts ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	DeleteTable(ctx context.Context, in *glue.DeleteTableInput, opts ...func(*glue.Options)) (*glue.DeleteTableOutput, error)
}

// Hive defaults applied when a table does not specify its formats.
const (
	defaultInputFormat  = "org.apache.hadoop.mapred.TextInputFormat"
	defaultOutputFormat = "org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat"
	defaultSerde        = "org.apache.hadoop.hive.serde2.lazy.LazySimpleSerDe"
)

type databaseParams struct {
	Description string `json:"description,omitempty"`
	LocationURI string `json:"location_uri,omitempty"`
}

type databaseSnapshot struct {
	DatabaseName string `json:"database_name"`
}

// GlueColumn is one column definition from the blueprint.
type GlueColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableParams struct {
	DatabaseName  string       `json:"database_name"`
	Columns       []GlueColumn `json:"columns"`
	PartitionKeys []GlueColumn `json:"partition_keys,omitempty"`
	Location      string       `json:"location,omitempty"`
	InputFormat   string       `json:"input_format,omitempty"`
	OutputFormat  string       `json:"output_format,omitempty"`
	Serde         string       `json:"serde,omitempty"`
}

type tableSnapshot struct {
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
}

// GlueDatabaseExecutor provisions Glue databases.
type GlueDatabaseExecutor struct {
	client GlueAPI
	logger zerolog.Logger
}

// NewGlueDatabaseExecutor constructs the database executor.
func NewGlueDatabaseExecutor(client GlueAPI, logger zerolog.Logger) *GlueDatabaseExecutor {
	return &GlueDatabaseExecutor{client: client, logger: logger.With().Str("provider", "aws_glue").Logger()}
}

func (e *GlueDatabaseExecutor) Execute(ctx context.Context, op *engine.Operation) (*engine.ExecuteResult, error) {
	var params databaseParams
	if err := json.Unmarshal(op.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid database params: %w", err)
	}

	input := &gluetypes.DatabaseInput{
		Name:        awssdk.String(op.ResourceName),
		Description: awssdk.String(params.Description),
	}
	if params.LocationURI != "" {
		input.LocationUri = awssdk.String(params.LocationURI)
	}

	if _, err := e.client.CreateDatabase(ctx, &glue.CreateDatabaseInput{DatabaseInput: input}); err != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", op.ResourceName, err)
	}
	e.logger.Info().Str("database", op.ResourceName).Msg("glue database created")

	snapshot, err := json.Marshal(databaseSnapshot{DatabaseName: op.ResourceName})
	if err != nil {
		return nil, fmt.Errorf("encoding rollback snapshot: %w", err)
	}
	return &engine.ExecuteResult{RollbackData: snapshot, ProviderMeta: snapshot}, nil
}

func (e *GlueDatabaseExecutor) Rollback(ctx context.Context, op *engine.Operation) error {
	if len(op.RollbackData) == 0 {
		return nil
	}
	var snapshot databaseSnapshot
	if err := json.Unmarshal(op.RollbackData, &snapshot); err != nil {
		return fmt.Errorf("invalid rollback snapshot: %w", err)
	}

	_, err := e.client.DeleteDatabase(ctx, &glue.DeleteDatabaseInput{
		Name: awssdk.String(snapshot.DatabaseName),
	})
	if err != nil && !isEntityNotFound(err) {
		return fmt.Errorf("failed to delete database %s: %w", snapshot.DatabaseName, err)
	}
	return nil
}

// GlueTableExecutor provisions Glue tables.
type GlueTableExecutor struct {
	client GlueAPI
	logger zerolog.Logger
}

// NewGlueTableExecutor constructs the table executor.
func NewGlueTableExecutor(client GlueAPI, logger zerolog.Logger) *GlueTableExecutor {
	return &GlueTableExecutor{client: client, logger: logger.With().Str("provider", "aws_glue").Logger()}
}

func (e *GlueTableExecutor) Execute(ctx context.Context, op *engine.Operation) (*engine.ExecuteResult, error) {
	var params tableParams
	if err := json.Unmarshal(op.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid table params: %w", err)
	}
	if params.DatabaseName == "" {
		return nil, fmt.Errorf("table %s has no database_name", op.ResourceName)
	}

	inputFormat := params.InputFormat
	if inputFormat == "" {
		inputFormat = defaultInputFormat
	}
	outputFormat := params.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
	}
	serde := params.Serde
	if serde == "" {
		serde = defaultSerde
	}

	input := &gluetypes.TableInput{
		Name: awssdk.String(op.ResourceName),
		StorageDescriptor: &gluetypes.StorageDescriptor{
			Columns:      glueColumns(params.Columns),
			Location:     awssdk.String(params.Location),
			InputFormat:  awssdk.String(inputFormat),
			OutputFormat: awssdk.String(outputFormat),
			SerdeInfo: &gluetypes.SerDeInfo{
				SerializationLibrary: awssdk.String(serde),
			},
		},
	}
	if len(params.PartitionKeys) > 0 {
		input.PartitionKeys = glueColumns(params.PartitionKeys)
	}

	_, err := e.client.CreateTable(ctx, &glue.CreateTableInput{
		DatabaseName: awssdk.String(params.DatabaseName),
		TableInput:   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create table %s.%s: %w", params.DatabaseName, op.ResourceName, err)
	}
	e.logger.Info().Str("database", params.DatabaseName).Str("table", op.ResourceName).Msg("glue table created")

	snapshot, err := json.Marshal(tableSnapshot{
		DatabaseName: params.DatabaseName,
		TableName:    op.ResourceName,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding rollback snapshot: %w", err)
	}
	return &engine.ExecuteResult{RollbackData: snapshot, ProviderMeta: snapshot}, nil
}

func (e *GlueTableExecutor) Rollback(ctx context.Context, op *engine.Operation) error {
	if len(op.RollbackData) == 0 {
		return nil
	}
	var snapshot tableSnapshot
	if err := json.Unmarshal(op.RollbackData, &snapshot); err != nil {
		return fmt.Errorf("invalid rollback snapshot: %w", err)
	}

	_, err := e.client.DeleteTable(ctx, &glue.DeleteTableInput{
		DatabaseName: awssdk.String(snapshot.DatabaseName),
		Name:         awssdk.String(snapshot.TableName),
	})
	if err != nil && !isEntityNotFound(err) {
		return fmt.Errorf("failed to delete table %s.%s: %w", snapshot.DatabaseName, snapshot.TableName, err)
	}
	return nil
}

func glueColumns(cols []GlueColumn) []gluetypes.Column {
	out := make([]gluetypes.Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, gluetypes.Column{
			Name: awssdk.String(c.Name),
			Type: awssdk.String(c.Type),
		})
	}
	return out
}

func isEntityNotFound(err error) bool {
	var enf *gluetypes.EntityNotFoundException
	return errors.As(err, &enf)
}
