package bootstrap

import (
	"delphi/internal/adapters/ai"
	chclient "delphi/internal/adapters/clickhouse"
	"delphi/internal/adapters/config"
	"delphi/internal/adapters/embeddings"
	"delphi/internal/adapters/errors/noop"
	"delphi/internal/adapters/errors/sentry"
	"delphi/internal/adapters/kafka"
	"delphi/internal/adapters/marketdata"
	pgclient "delphi/internal/adapters/postgres"
	redisclient "delphi/internal/adapters/redis"
	"delphi/internal/api"
	"delphi/internal/api/health"
	"delphi/internal/artifacts"
	"delphi/internal/domain/corpus"
	"delphi/internal/domain/history"
	"delphi/internal/events"
	"delphi/internal/metrics"
	chrepo "delphi/internal/repository/clickhouse"
	pgrepo "delphi/internal/repository/postgres"
	"delphi/internal/workflow"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Container holds all application dependencies, organized in
// initialization order.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG       *pgclient.Client
	CH       *chclient.Client // nil when ClickHouse is disabled
	Redis    *redisclient.Client
	Producer *kafka.Producer // nil when Kafka is disabled

	// External providers
	Chat     ai.ChatProvider
	Embedder embeddings.Provider
	Market   marketdata.Provider

	// Domain services
	Corpus  *corpus.Service
	History *history.Service

	// Application
	Engine *workflow.Engine
	Server *api.Server

	Lifecycle *Lifecycle
}

// New builds the full dependency graph. Config and logger must be valid;
// ClickHouse and Kafka are optional and degrade to no-ops when disabled.
func New() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	tracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(tracker)

	metrics.Init()

	c := &Container{
		Config:       cfg,
		Log:          log,
		ErrorTracker: tracker,
		Lifecycle:    NewLifecycle(),
	}

	if err := c.initInfrastructure(); err != nil {
		c.Lifecycle.closeDatabases(c.PG, c.CH, c.Redis, log)
		return nil, err
	}
	c.initProviders()
	c.initDomain()
	c.initApplication()

	log.Info("Container initialized")
	return c, nil
}

func (c *Container) initInfrastructure() error {
	pg, err := pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	c.PG = pg

	rds, err := redisclient.NewClient(c.Config.Redis)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	c.Redis = rds

	if c.Config.ClickHouse.Enabled {
		ch, err := chclient.NewClient(c.Config.ClickHouse)
		if err != nil {
			return errors.Wrap(err, "connect clickhouse")
		}
		c.CH = ch
	} else {
		c.Log.Info("ClickHouse disabled, turn analytics will not be recorded")
	}

	if c.Config.Kafka.Enabled {
		c.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: c.Config.Kafka.Brokers})
	} else {
		c.Log.Info("Kafka disabled, workflow events will not be published")
	}

	return nil
}

func (c *Container) initProviders() {
	aiCfg := c.Config.AI

	limiter := ai.NewTokenBucketLimiter(aiCfg.RequestsPerMin, int(aiCfg.RequestsPerMin/10)+1)
	c.Chat = ai.NewOpenAIProvider(aiCfg.OpenAIKey, aiCfg.Timeout, limiter)

	embedder, err := embeddings.NewOpenAIProvider(aiCfg.OpenAIKey, aiCfg.EmbeddingModel, aiCfg.Timeout)
	if err != nil {
		// Only fails on an empty key, which config.Load already requires.
		c.Log.Fatalf("Failed to init embeddings provider: %v", err)
	}
	c.Embedder = embedder

	md := c.Config.MarketData
	c.Market = marketdata.NewYahooProvider(marketdata.YahooConfig{
		BaseURL:        md.BaseURL,
		Timeout:        md.Timeout,
		RequestsPerMin: md.RequestsPerMin,
	})
}

func (c *Container) initDomain() {
	db := c.PG.DB()

	c.Corpus = corpus.NewService(pgrepo.NewCorpusRepository(db), c.Embedder, corpus.Config{
		Collection:      c.Config.Retrieval.Collection,
		TopK:            c.Config.Retrieval.TopK,
		SimilarityFloor: c.Config.Retrieval.SimilarityFloor,
	})
	c.History = history.NewService(pgrepo.NewHistoryRepository(db), c.Redis)
}

func (c *Container) initApplication() {
	cfg := c.Config
	model := cfg.AI.ChatModel
	temp := cfg.AI.Temperature

	renderer, err := artifacts.NewGenerator(cfg.Artifacts.Dir)
	if err != nil {
		c.Log.Fatalf("Failed to init artifacts dir %s: %v", cfg.Artifacts.Dir, err)
	}

	var analytics workflow.TurnSink
	if c.CH != nil {
		analytics = chrepo.NewTurnAnalytics(c.CH.Conn())
	}

	var publisher *events.Publisher
	if c.Producer != nil {
		publisher = events.NewPublisher(c.Producer)
	}

	c.Engine = workflow.NewEngine(workflow.Deps{
		Cleaner:    workflow.NewQueryCleaner(c.Chat, model, temp),
		Classifier: workflow.NewRequestClassifier(c.Chat, model, temp),
		Router:     workflow.NewRouter(c.Chat, model, temp),
		Providers: []workflow.EvidenceProvider{
			workflow.NewRetrievalProvider(c.Corpus),
			workflow.NewAnalysisProvider(c.Chat, c.Market, c.Corpus, workflow.AnalysisConfig{
				Model:        model,
				Temperature:  temp,
				HistoryRange: cfg.MarketData.HistoryRange,
			}),
		},
		Synthesizer: workflow.NewReportSynthesizer(c.Chat, model, temp),
		Evaluator:   workflow.NewQualityEvaluator(c.Chat, model, temp, float64(cfg.Workflow.QualityThreshold)),
		History:     c.History,
		Chat:        c.Chat,
		ChatModel:   model,
		Renderer:    renderer,
		Publisher:   publisher,
		Analytics:   analytics,
		Locks:       c.Redis,
	}, workflow.Config{
		MaxRetries:    cfg.Workflow.MaxRetries,
		StageTimeout:  cfg.Workflow.StageTimeout,
		ContextWindow: cfg.Workflow.ContextWindow,
	})

	checkers := map[string]health.Checker{
		"postgres": c.PG,
		"redis":    c.Redis,
	}
	if c.CH != nil {
		checkers["clickhouse"] = c.CH
	}

	c.Server = api.NewServer(api.ServerConfig{
		Port:        cfg.Server.Port,
		ServiceName: cfg.App.Name,
		Version:     version,
	}, api.NewQueryHandler(c.Engine), health.New(cfg.App.Name, version, checkers))
}

// initErrorTracker initializes error tracking (Sentry or no-op).
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

const version = "1.0.0"
