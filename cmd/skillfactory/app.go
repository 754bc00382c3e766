package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/programme-lv/skillfactory/internal/agent"
	"github.com/programme-lv/skillfactory/internal/config"
	"github.com/programme-lv/skillfactory/internal/gatherer"
	"github.com/programme-lv/skillfactory/internal/gatherer/natsgath"
	"github.com/programme-lv/skillfactory/internal/gatherer/sqsgath"
	"github.com/programme-lv/skillfactory/internal/gatherer/termgath"
	"github.com/programme-lv/skillfactory/internal/logging"
	"github.com/programme-lv/skillfactory/internal/packager"
	"github.com/programme-lv/skillfactory/internal/pipeline"
	"github.com/programme-lv/skillfactory/internal/results"
	"github.com/programme-lv/skillfactory/internal/sandbox"
	"github.com/programme-lv/skillfactory/internal/scheduler"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/programme-lv/skillfactory/internal/xdg"
	"github.com/urfave/cli/v3"
)

// app holds everything built from the configuration that outlives a
// single batch.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	engine *sandbox.Engine

	// agent.log in the logs dir
	logFile *os.File

	nc  *nats.Conn
	sqs *sqs.Client
	s3  *s3.Client
}

// loadApp resolves the configuration with flags on top and builds the
// logger and the sandbox engine. Network clients are created lazily.
func loadApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(config.Sources{
		File:   cmd.String("config"),
		DotEnv: cmd.String("env-file"),
	})
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("skills-dir") {
		cfg.SkillsDir = cmd.String("skills-dir")
	}
	if cmd.IsSet("data-dir") {
		cfg.DataDir = cmd.String("data-dir")
	}
	if cmd.IsSet("logs-dir") {
		cfg.LogsDir = cmd.String("logs-dir")
	}
	if cmd.IsSet("workers") {
		cfg.Workers = int(cmd.Int("workers"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cmd.Bool("no-color") {
		color.NoColor = true
	}
	logFile, err := logging.OpenFile(cfg.LogsPath())
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, logging.Options{
		Level:   level,
		JSON:    cmd.Bool("log-json"),
		NoColor: color.NoColor,
		File:    logFile,
	})

	engine := sandbox.NewEngine(sandbox.Config{
		Runtime: cfg.Docker.Runtime,
		Constraints: sandbox.Constraints{
			Memory:         cfg.Docker.MemoryLimit,
			CPUs:           cfg.Docker.CPULimit,
			WallTime:       cfg.DockerTimeoutDur(),
			MaxOutputBytes: sandbox.DefaultConstraints().MaxOutputBytes,
		},
		RegistryMirror: cfg.Docker.RegistryMirror,
		Images:         cfg.Images(),
	}, logger)

	return &app{cfg: cfg, logger: logger, out: os.Stdout, engine: engine, logFile: logFile}, nil
}

func (a *app) close() {
	a.engine.Shutdown()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("failed to drain NATS connection", "error", err)
		}
	}
	if err := a.logFile.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to close log file:", err)
	}
}

func (a *app) warn() {
	for _, w := range a.cfg.Warnings() {
		a.logger.Warn(w)
	}
}

func (a *app) sqsClient(ctx context.Context) (*sqs.Client, error) {
	if a.sqs == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a.sqs = sqs.NewFromConfig(awsCfg)
	}
	return a.sqs, nil
}

func (a *app) s3Client(ctx context.Context) (*s3.Client, error) {
	if a.s3 == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a.s3 = s3.NewFromConfig(awsCfg)
	}
	return a.s3, nil
}

func (a *app) natsConn() (*nats.Conn, error) {
	if a.nc == nil {
		nc, err := natsgath.Connect(a.cfg.Events.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", a.cfg.Events.NatsURL, err)
		}
		a.nc = nc
	}
	return a.nc, nil
}

// gatherer fans events out to the terminal and to every configured sink.
// A batch-level result queue is added on top of the configured one.
func (a *app) gatherer(ctx context.Context, b task.Batch) (gatherer.Gatherer, error) {
	sinks := []gatherer.Gatherer{termgath.New(a.out, a.cfg.LogLevel == "debug")}

	if a.cfg.Events.NatsURL != "" {
		nc, err := a.natsConn()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsgath.New(nc, b.RunUuid, a.cfg.Events.NatsSubject, a.logger))
	}

	urls := []string{a.cfg.Events.SqsURL}
	if b.ResSqsUrl != a.cfg.Events.SqsURL {
		urls = append(urls, b.ResSqsUrl)
	}
	for _, url := range urls {
		if url == "" {
			continue
		}
		client, err := a.sqsClient(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sqsgath.New(client, b.RunUuid, url, a.logger))
	}
	return gatherer.Multi(sinks...), nil
}

func (a *app) packager(ctx context.Context) (*packager.Packager, error) {
	var opts []packager.Option
	if a.cfg.AWS.S3Bucket != "" {
		client, err := a.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, packager.WithS3(client, a.cfg.AWS.S3Bucket))
	}
	return packager.New(a.cfg.SkillsDir, a.logger, opts...), nil
}

func (a *app) agents() (agent.Factory, error) {
	mcp, err := agent.Context7MCPConfig(a.cfg.Claude.Context7APIURL, a.cfg.Claude.Context7APIKey)
	if err != nil {
		return nil, err
	}
	return agent.NewClaudeFactory(agent.ClaudeOptions{
		Binary:         a.cfg.Claude.Binary,
		Model:          a.cfg.Claude.Model,
		PermissionMode: a.cfg.Claude.PermissionMode,
		MCPConfig:      mcp,
		WorkDir:        a.cfg.SkillsDir,
		Env:            a.cfg.AgentEnv(),
	}, a.logger), nil
}

// runBatch wires one batch end to end and writes its report to
// reportPath. The image prefetcher lives as long as the batch.
func (a *app) runBatch(ctx context.Context, b task.Batch, reportPath string) (*results.Store, error) {
	store := results.NewStore(b.RunUuid)
	if len(b.Tasks) == 0 {
		sch := scheduler.New(scheduler.Config{ReportPath: reportPath}, nil, a.logger)
		_, err := sch.RunBatch(ctx, b, store)
		return store, err
	}

	if err := xdg.EnsureDir(a.cfg.SkillsDir); err != nil {
		return nil, fmt.Errorf("create skills dir: %w", err)
	}
	g, err := a.gatherer(ctx, b)
	if err != nil {
		return nil, err
	}
	pk, err := a.packager(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := a.agents()
	if err != nil {
		return nil, err
	}

	prefetchCtx, cancel := context.WithCancel(ctx)
	prefetcher := sandbox.NewPrefetcher(a.engine, a.logger)
	prefetcher.Start(prefetchCtx)
	defer func() {
		cancel()
		<-prefetcher.Stopped()
	}()

	pl := pipeline.New(pipeline.Config{
		SkillsDir:    a.cfg.SkillsDir,
		MaxAttempts:  a.cfg.MaxRetryAttempts,
		RoundTimeout: a.cfg.RoundTimeoutDur(),
	}, agents, a.engine, a.logger,
		pipeline.WithImageWaiter(prefetcher),
		pipeline.WithPackager(pk),
		pipeline.WithGatherer(g),
	)
	sch := scheduler.New(scheduler.Config{
		Concurrency: a.cfg.Workers,
		TaskTimeout: a.cfg.WorkerTimeoutDur(),
		SkillsDir:   a.cfg.SkillsDir,
		ReportPath:  reportPath,
	}, pl, a.logger,
		scheduler.WithPrefetcher(prefetcher),
		scheduler.WithGatherer(g),
	)

	_, err = sch.RunBatch(ctx, b, store)
	return store, err
}

// reportPathFor places the report of a queued run next to the others.
func (a *app) reportPathFor(runUuid string) string {
	return filepath.Join(a.cfg.DataDir, "runs", runUuid+".json")
}
