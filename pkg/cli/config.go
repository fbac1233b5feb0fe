package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/adapter"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/policy"
	"github.com/m-mizutani/wares/pkg/repository"
	"github.com/m-mizutani/wares/pkg/usecase/product"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/m-mizutani/wares/pkg/utils/telemetry"
	"github.com/urfave/cli/v3"
)

// Vector index backends
const (
	backendFirestore = "firestore"
	backendQdrant    = "qdrant"
	backendSQLite    = "sqlite"
)

const serviceName = "wares"

// config holds configuration values
type config struct {
	configPath string

	// Logging and tracing
	logLevel  string
	logFormat string
	trace     string

	// Vector index
	backend          string
	project          string
	database         string
	collection       string
	qdrantAddr       string
	qdrantAPIKey     string
	qdrantTLS        bool
	qdrantCollection string
	sqlitePath       string
	dimension        int64
	policyDir        string

	// Gemini
	geminiProject   string
	geminiLocation  string
	geminiAPIKey    string
	generativeModel string
	embeddingModel  string
	temperature     float64
	answerTopK      int64
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file. Flags and environment variables take precedence",
			Sources:     cli.EnvVars("WARES_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("WARES_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("WARES_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "trace",
			Usage:       "Trace exporter (stdout). Disabled if empty",
			Sources:     cli.EnvVars("WARES_TRACE"),
			Destination: &cfg.trace,
		},
	}
}

// indexFlags returns flags for the vector index with destination config
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "index-backend",
			Usage:       "Vector index backend (firestore, qdrant, sqlite)",
			Value:       backendFirestore,
			Sources:     cli.EnvVars("WARES_INDEX_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Firestore collection of product entries",
			Value:       "products",
			Sources:     cli.EnvVars("WARES_FIRESTORE_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "qdrant-addr",
			Usage:       "Qdrant gRPC address (host:port)",
			Value:       "localhost:6334",
			Sources:     cli.EnvVars("WARES_QDRANT_ADDR"),
			Destination: &cfg.qdrantAddr,
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Usage:       "Qdrant API key",
			Sources:     cli.EnvVars("WARES_QDRANT_API_KEY"),
			Destination: &cfg.qdrantAPIKey,
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Usage:       "Connect to Qdrant with TLS",
			Sources:     cli.EnvVars("WARES_QDRANT_TLS"),
			Destination: &cfg.qdrantTLS,
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Usage:       "Qdrant collection of product entries",
			Value:       "products",
			Sources:     cli.EnvVars("WARES_QDRANT_COLLECTION"),
			Destination: &cfg.qdrantCollection,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "Path to SQLite database file",
			Value:       "./wares.db",
			Sources:     cli.EnvVars("WARES_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding vector dimension",
			Value:       adapter.DefaultEmbeddingDimension,
			Sources:     cli.EnvVars("WARES_DIMENSION"),
			Destination: &cfg.dimension,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files evaluated for each product before indexing",
			Sources:     cli.EnvVars("WARES_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used if empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for answers",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("WARES_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("WARES_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Sampling temperature of answers. The model default is used if negative",
			Value:       -1,
			Sources:     cli.EnvVars("WARES_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.IntFlag{
			Name:        "answer-top-k",
			Usage:       "Number of products given to the model as context",
			Value:       3,
			Sources:     cli.EnvVars("WARES_ANSWER_TOP_K"),
			Destination: &cfg.answerTopK,
		},
	}
}

// binding assigns a config file value to a field when its flag is not given
type binding struct {
	flag string
	set  func(k *koanf.Koanf)
}

func (cfg *config) bindings() []binding {
	str := func(flag string, dst *string) binding {
		return binding{flag: flag, set: func(k *koanf.Koanf) { *dst = k.String(flag) }}
	}
	num := func(flag string, dst *int64) binding {
		return binding{flag: flag, set: func(k *koanf.Koanf) { *dst = k.Int64(flag) }}
	}

	return []binding{
		str("log-level", &cfg.logLevel),
		str("log-format", &cfg.logFormat),
		str("trace", &cfg.trace),
		str("index-backend", &cfg.backend),
		str("project", &cfg.project),
		str("database", &cfg.database),
		str("collection", &cfg.collection),
		str("qdrant-addr", &cfg.qdrantAddr),
		str("qdrant-api-key", &cfg.qdrantAPIKey),
		{flag: "qdrant-tls", set: func(k *koanf.Koanf) { cfg.qdrantTLS = k.Bool("qdrant-tls") }},
		str("qdrant-collection", &cfg.qdrantCollection),
		str("sqlite-path", &cfg.sqlitePath),
		num("dimension", &cfg.dimension),
		str("policy-dir", &cfg.policyDir),
		str("gemini-project", &cfg.geminiProject),
		str("gemini-location", &cfg.geminiLocation),
		str("gemini-api-key", &cfg.geminiAPIKey),
		str("generative-model", &cfg.generativeModel),
		str("embedding-model", &cfg.embeddingModel),
		{flag: "temperature", set: func(k *koanf.Koanf) { cfg.temperature = k.Float64("temperature") }},
		num("answer-top-k", &cfg.answerTopK),
	}
}

// loadFile fills values from the config file for flags that were not set
// on the command line or by environment variables. Keys are flag names.
func (cfg *config) loadFile(c *cli.Command, extra ...binding) error {
	if cfg.configPath == "" {
		return nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(cfg.configPath), yaml.Parser()); err != nil {
		return goerr.Wrap(err, "failed to load config file", goerr.V("path", cfg.configPath))
	}

	for _, b := range append(cfg.bindings(), extra...) {
		if c.IsSet(b.flag) || !k.Exists(b.flag) {
			continue
		}
		b.set(k)
	}
	return nil
}

// setup loads the config file and installs the logger and tracer. The
// returned function flushes pending spans.
func (cfg *config) setup(ctx context.Context, c *cli.Command, extra ...binding) (context.Context, func(), error) {
	if err := cfg.loadFile(c, extra...); err != nil {
		return nil, nil, err
	}

	switch cfg.logFormat {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return nil, nil, goerr.New("unsupported log format", goerr.V("format", cfg.logFormat))
	}
	logger := logging.NewWithFormat(cfg.logLevel, cfg.logFormat, os.Stderr)
	logging.SetDefault(logger)
	ctx = logging.With(ctx, logger)

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.trace, telemetry.WithVersion(version))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to set up tracing")
	}

	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}
	return ctx, cleanup, nil
}

// newIndex creates the configured vector index. The returned closer releases the connection.
func (cfg *config) newIndex(ctx context.Context) (interfaces.VectorIndex, io.Closer, error) {
	dim := int(cfg.dimension)

	switch cfg.backend {
	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required for firestore backend")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database, dim,
			repository.WithCollection(cfg.collection))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create firestore index")
		}
		return repo, repo, nil

	case backendQdrant:
		if cfg.qdrantAddr == "" {
			return nil, nil, goerr.New("qdrant-addr is required for qdrant backend")
		}
		opts := []repository.QdrantOption{
			repository.WithQdrantCollection(cfg.qdrantCollection),
			repository.WithQdrantTLS(cfg.qdrantTLS),
		}
		if cfg.qdrantAPIKey != "" {
			opts = append(opts, repository.WithQdrantAPIKey(cfg.qdrantAPIKey))
		}
		repo, err := repository.NewQdrant(ctx, cfg.qdrantAddr, dim, opts...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create qdrant index")
		}
		return repo, repo, nil

	case backendSQLite:
		if cfg.sqlitePath == "" {
			return nil, nil, goerr.New("sqlite-path is required for sqlite backend")
		}
		repo, err := repository.NewSQLite(ctx, cfg.sqlitePath, dim)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create sqlite index")
		}
		return repo, repo, nil

	default:
		return nil, nil, goerr.New("unsupported index backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendFirestore, backendQdrant, backendSQLite}))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	opts := []adapter.GeminiOption{
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithDimension(int(cfg.dimension)),
	}
	if cfg.temperature >= 0 {
		opts = append(opts, adapter.WithTemperature(float32(cfg.temperature)))
	}

	if cfg.geminiAPIKey != "" {
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	} else {
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project or gemini-api-key is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newUseCase wires the product pipeline. Documents and queries are embedded
// with their own task types on a shared client.
func (cfg *config) newUseCase(ctx context.Context) (*product.UseCase, io.Closer, error) {
	if cfg.answerTopK <= 0 {
		return nil, nil, goerr.New("answer-top-k must be positive", goerr.V("answer-top-k", cfg.answerTopK))
	}

	index, closer, err := cfg.newIndex(ctx)
	if err != nil {
		return nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	opts := []product.Option{
		product.WithQueryEmbedder(gemini.WithTask(adapter.TaskRetrievalQuery)),
		product.WithAnswerTopK(int(cfg.answerTopK)),
	}
	if cfg.policyDir != "" {
		p, err := policy.NewIngest(ctx, cfg.policyDir)
		if err != nil {
			_ = closer.Close()
			return nil, nil, goerr.Wrap(err, "failed to load ingest policy")
		}
		if p != nil {
			opts = append(opts, product.WithIngestPolicy(p))
		}
	}

	uc := product.New(index, gemini.WithTask(adapter.TaskRetrievalDocument), gemini, opts...)
	return uc, closer, nil
}
