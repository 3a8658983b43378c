package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/viper"

	"legalguardian/internal/chat"
	"legalguardian/internal/config"
	"legalguardian/internal/heuristics"
	"legalguardian/internal/index"
	"legalguardian/internal/integrations/ollama"
	"legalguardian/internal/integrations/openai"
	"legalguardian/internal/integrations/paramstore"
	"legalguardian/internal/memory"
	"legalguardian/internal/repository"
	"legalguardian/internal/retrieval"
	"legalguardian/internal/usecase"
)

// App holds the wired components shared by every entry point.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Memory      *memory.Store
	Heuristics  *heuristics.Store
	Retriever   *retrieval.Retriever
	Service     *usecase.AskService
	Transcripts *repository.Client
	Chat        *chat.Dispatcher
}

// AWS is a lazily loaded SDK configuration. Nothing touches AWS until a
// component that needs it asks.
type AWS struct {
	load func(ctx context.Context) (aws.Config, error)

	once sync.Once
	cfg  aws.Config
	err  error
}

func NewAWS() *AWS {
	return &AWS{load: func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}}
}

func (a *AWS) Config(ctx context.Context) (aws.Config, error) {
	a.once.Do(func() {
		a.cfg, a.err = a.load(ctx)
		if a.err != nil {
			a.err = fmt.Errorf("app: load AWS config: %w", a.err)
		}
	})
	return a.cfg, a.err
}

func (a *AWS) ParamStore(ctx context.Context, prefix string) (*paramstore.Client, error) {
	cfg, err := a.Config(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.New(awsssm.NewFromConfig(cfg), prefix)
}

func (a *AWS) Transcripts(ctx context.Context, table string, ttl time.Duration) (*repository.Client, error) {
	cfg, err := a.Config(ctx)
	if err != nil {
		return nil, err
	}
	return repository.New(awsdynamodb.NewFromConfig(cfg), table, ttl)
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// settingsSource lists parameters under a path; *paramstore.Client implements it.
type settingsSource interface {
	GetByPath(ctx context.Context, dir string) (map[string]string, error)
}

// ResolveConfig reads file (optional) and the environment into v, overlays
// parameter store settings when param_prefix is set, and validates the result.
func ResolveConfig(ctx context.Context, v *viper.Viper, file string, cloud *AWS) (config.Config, error) {
	cfg, err := config.Load(v, file)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(cfg.ParamPrefix) != "" {
		ps, err := cloud.ParamStore(ctx, cfg.ParamPrefix)
		if err != nil {
			return config.Config{}, err
		}
		if cfg, err = overlaySettings(ctx, v, ps); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func overlaySettings(ctx context.Context, v *viper.Viper, src settingsSource) (config.Config, error) {
	params, err := src.GetByPath(ctx, paramstore.SettingsParam)
	if err != nil {
		return config.Config{}, fmt.Errorf("app: load settings: %w", err)
	}
	config.Overlay(v, params)
	return config.Decode(v)
}

// Build wires every component. A missing or empty corpus file is fatal.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, cloud *AWS) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cloud == nil {
		cloud = NewAWS()
	}

	store := memory.New(cfg.MaxHistory)

	tables, err := heuristics.NewStore(cfg.HeuristicsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: heuristics: %w", err)
	}
	if cfg.WatchHeuristics {
		if err := tables.Watch(ctx); err != nil {
			return nil, fmt.Errorf("app: heuristics: %w", err)
		}
	}

	flat, corpus, err := index.Load(ctx, cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	logger.Info("corpus loaded", "path", cfg.IndexPath, "chunks", corpus.Len(), "vectors", flat.Len())

	embedder, err := ollama.NewClient(cfg.EmbeddingModel,
		ollama.WithBaseURL(cfg.EmbeddingURL),
		ollama.WithTimeout(cfg.EmbeddingTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app: embedder: %w", err)
	}

	retriever, err := retrieval.New(embedder, flat, corpus,
		retrieval.WithQueryPrefix(cfg.QueryPrefix),
		retrieval.WithTopK(cfg.TopK),
		retrieval.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: retriever: %w", err)
	}

	generator, err := newGenerator(ctx, cfg, cloud)
	if err != nil {
		return nil, err
	}

	svc, err := usecase.NewAskService(store, tables, retriever, generator, cfg.Pipeline(), logger)
	if err != nil {
		return nil, fmt.Errorf("app: ask service: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Memory:     store,
		Heuristics: tables,
		Retriever:  retriever,
		Service:    svc,
	}

	var archive chat.Archiver
	if table := strings.TrimSpace(cfg.StateTable); table != "" {
		a.Transcripts, err = cloud.Transcripts(ctx, table, cfg.TranscriptRetention())
		if err != nil {
			return nil, fmt.Errorf("app: transcripts: %w", err)
		}
		archive = a.Transcripts
	}

	a.Chat, err = chat.New(svc, archive, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return a, nil
}

func newGenerator(ctx context.Context, cfg config.Config, cloud *AWS) (*openai.Client, error) {
	opts := []openai.Option{
		openai.WithBaseURL(cfg.LLMBaseURL),
		openai.WithTimeout(cfg.LLMTimeout),
	}
	switch {
	case strings.TrimSpace(cfg.LLMAPIKey) != "":
		opts = append(opts, openai.WithAPIKey(cfg.LLMAPIKey))
	case strings.TrimSpace(cfg.ParamPrefix) != "":
		ps, err := cloud.ParamStore(ctx, cfg.ParamPrefix)
		if err != nil {
			return nil, err
		}
		opts = append(opts, openai.WithParamStoreKey(ps, ps.Name(paramstore.TokenParam)))
	}
	c, err := openai.NewClient(cfg.LLMModel, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: generator: %w", err)
	}
	return c, nil
}

// ErrNoTranscripts is returned by commands that need the transcript table
// when state_table is not configured.
var ErrNoTranscripts = errors.New("app: state_table is not configured")
