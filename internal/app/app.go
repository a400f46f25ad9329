package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/markdave123-py/Structa/internal/config"
	"github.com/markdave123-py/Structa/internal/core"
	db "github.com/markdave123-py/Structa/internal/core/database"
	"github.com/markdave123-py/Structa/internal/core/extraction_engine"
	"github.com/markdave123-py/Structa/internal/core/llm"
	objectclient "github.com/markdave123-py/Structa/internal/core/object-client"
	"github.com/markdave123-py/Structa/internal/core/partitioner"
	"github.com/markdave123-py/Structa/internal/logger"
	"github.com/markdave123-py/Structa/internal/telemetry"
)

// Options select the optional parts of the application.
type Options struct {
	// Local partitions in-process instead of calling the remote service.
	Local bool
	// Mirror uploads every artifact to the configured bucket.
	Mirror bool
	// Ledger records runs in Postgres when DATABASE_URL is set.
	Ledger bool
}

type App struct {
	Config   *config.Config
	Log      logger.Logger
	Writer   *extraction_engine.OutputWriter
	Loader   *extraction_engine.SourceLoader
	Pipeline *extraction_engine.Pipeline

	// Runs and Objects are nil when not configured.
	Runs    core.RunStore
	Objects core.ObjectClient

	closers []func(context.Context) error
}

func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    logger.GetDefault(),
		Writer: extraction_engine.NewOutputWriter(cfg.OutputDir),
	}

	shutdown, err := telemetry.Setup(ctx, "structa", cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if cfg.ObjectStorageEnabled() {
		obj, err := objectclient.NewS3Client(appCtx, objectclient.S3Options{
			AccessKey: cfg.AwsAccessKey,
			SecretKey: cfg.AwsSecretKey,
			Region:    cfg.AwsRegion,
			Endpoint:  cfg.AwsEndpoint,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Objects = obj
		a.Log.Info("object storage ready", "bucket", cfg.BucketName)
	} else if opts.Mirror {
		a.Close()
		return nil, errors.New("mirroring needs AWS_ACCESS_KEY, AWS_SECRET_KEY and BUCKET_NAME")
	}
	a.Loader = extraction_engine.NewSourceLoader(a.Objects)

	if opts.Ledger && cfg.DatabaseURL != "" {
		dbClient, err := db.NewDatabaseClient(appCtx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Runs = dbClient
		a.closers = append(a.closers, func(context.Context) error { return dbClient.Close() })
		a.Log.Info("run ledger ready")
	}

	p, err := newPartitioner(cfg, opts.Local)
	if err != nil {
		a.Close()
		return nil, err
	}

	pipelineOpts := []extraction_engine.Option{
		extraction_engine.WithLogger(a.Log),
		extraction_engine.WithRetryPolicy(extraction_engine.RetryPolicy{
			MaxRetries:     uint64(cfg.MaxRetries),
			BaseDelay:      cfg.RetryBaseDelay,
			MaxDelay:       cfg.RetryMaxDelay,
			RequestTimeout: cfg.RequestTimeout,
		}),
	}
	if a.Runs != nil {
		pipelineOpts = append(pipelineOpts, extraction_engine.WithRunStore(a.Runs))
	}
	if opts.Mirror {
		pipelineOpts = append(pipelineOpts, extraction_engine.WithMirror(a.Objects, cfg.BucketName))
	}

	a.Pipeline = extraction_engine.NewPipeline(p, a.Writer, pipelineOpts...)
	return a, nil
}

// newPartitioner builds the configured backend, throttled and traced.
func newPartitioner(cfg *config.Config, local bool) (partitioner.Partitioner, error) {
	var (
		p    partitioner.Partitioner
		name string
	)
	if local {
		p, name = partitioner.NewLocal(cfg.UseReadability), "local"
	} else {
		if cfg.UnstructuredAPIKey == "" {
			return nil, errors.New("UNSTRUCTURED_API is not set")
		}
		client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		p = partitioner.NewUnstructured(cfg.UnstructuredURL,
			partitioner.WithClient(client),
			partitioner.WithToken(cfg.UnstructuredAPIKey),
		)
		name = "unstructured"
	}

	p = partitioner.NewLimited(partitioner.NewLimiter(cfg.RateLimit), p)
	return partitioner.NewTraced(name, p), nil
}

// NewLLM builds the text-generation provider named by LLM_PROVIDER.
func NewLLM(ctx context.Context, cfg *config.Config) (core.LLMProvider, func() error, error) {
	switch cfg.LLMProvider {
	case "", "gemini":
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel, true)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize gemini: %w", err)
		}
		return g, g.Close, nil
	case "openai":
		o, err := llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			ProjectID:  cfg.OpenAIProjectID,
			HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize openai: %w", err)
		}
		return o, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// JSONLDConverter builds a converter on the configured provider. The
// provider is released when the app closes.
func (a *App) JSONLDConverter(ctx context.Context) (*llm.JSONLDConverter, error) {
	provider, closeFn, err := NewLLM(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeFn() })
	return llm.NewJSONLDConverter(provider), nil
}

// Close releases everything NewApp opened, newest first.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("close", "err", err)
		}
	}
	a.closers = nil
}
