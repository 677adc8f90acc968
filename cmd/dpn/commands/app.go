package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dpnlabs/dpn/pkg/blueprint"
	"github.com/dpnlabs/dpn/pkg/config"
	"github.com/dpnlabs/dpn/pkg/engine"
	"github.com/dpnlabs/dpn/pkg/naming"
	"github.com/dpnlabs/dpn/pkg/providers/aws"
	"github.com/dpnlabs/dpn/pkg/providers/databricks"
	"github.com/dpnlabs/dpn/pkg/stores"
	"github.com/dpnlabs/dpn/pkg/telemetry"
)

// app wires the subsystems every command shares: configuration, logging,
// metrics, and the state store. Provider clients are built lazily per
// command because validate and dry runs should work without credentials.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	store   *stores.SQLiteStore
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	logger := telemetry.NewLogger(cfg.Logging)
	log.Logger = logger

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StatePath()})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing state store: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics("dpn"),
		store:   store,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing state store")
	}
}

// parseBlueprint loads a blueprint file and resolves it into resource
// specs with fully generated names.
func (a *app) parseBlueprint(path string) ([]engine.ResourceSpec, error) {
	p := blueprint.NewParser()
	bp, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	gen, err := a.generator(bp.Metadata)
	if err != nil {
		return nil, err
	}
	return p.Parse(bp, gen)
}

// generator builds the naming generator for one blueprint. The region
// comes from the blueprint when set, otherwise from configuration.
func (a *app) generator(meta blueprint.Metadata) (*naming.Generator, error) {
	region := meta.Region
	if region == "" {
		region = a.cfg.AWS.Region
	}
	gen, err := naming.NewGenerator(naming.Config{
		Project:     meta.Project,
		Environment: meta.Environment,
		Region:      region,
		Team:        meta.Team,
	})
	if err != nil {
		return nil, err
	}
	if a.cfg.NamingPatterns != "" {
		if err := gen.LoadPatternFile(a.cfg.NamingPatterns); err != nil {
			return nil, err
		}
	}
	return gen, nil
}

// registry assembles the provider executors. AWS executors are always
// registered; Databricks executors need a configured host and token, and
// needDBX makes their absence a hard error instead of a partial registry.
func (a *app) registry(ctx context.Context, needDBX bool) (*engine.Registry, error) {
	reg := engine.NewRegistry()

	awsCfg, err := aws.LoadConfig(ctx, a.cfg.AWS.Region, a.cfg.AWS.Profile)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	glueClient := aws.NewGlueClient(awsCfg)
	reg.Register(engine.ResourceS3Bucket, aws.NewS3Executor(aws.NewS3Client(awsCfg), a.logger))
	reg.Register(engine.ResourceGlueDatabase, aws.NewGlueDatabaseExecutor(glueClient, a.logger))
	reg.Register(engine.ResourceGlueTable, aws.NewGlueTableExecutor(glueClient, a.logger))

	token := config.DatabricksToken()
	if a.cfg.Databricks.Host != "" && token != "" {
		client, err := databricks.NewClient(a.cfg.Databricks.Host, token, a.cfg.Databricks.Timeout)
		if err != nil {
			return nil, err
		}
		reg.Register(engine.ResourceDBXCluster, databricks.NewClusterExecutor(client, a.logger))
		reg.Register(engine.ResourceDBXJob, databricks.NewJobExecutor(client, a.logger))
		reg.Register(engine.ResourceDBXCatalog, databricks.NewCatalogExecutor(client, a.logger))
		reg.Register(engine.ResourceDBXSchema, databricks.NewSchemaExecutor(client, a.logger))
		reg.Register(engine.ResourceDBXTable, databricks.NewUCTableExecutor(client, a.logger))
	} else if needDBX {
		return nil, engine.NewValidationError(
			"blueprint declares Databricks resources but databricks.host or DATABRICKS_TOKEN is not set", nil)
	}

	return reg, nil
}

func (a *app) newEngine(reg *engine.Registry) (*engine.Engine, error) {
	return engine.New(engine.Config{
		WALDir:      a.cfg.WALDir(),
		LockTimeout: a.cfg.LockTimeout,
		Store:       a.store,
		Registry:    reg,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

func needsDatabricks(specs []engine.ResourceSpec) bool {
	for _, s := range specs {
		if strings.HasPrefix(string(s.Type), "dbx_") {
			return true
		}
	}
	return false
}
