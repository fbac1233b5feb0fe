package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/adapter"
	server "github.com/m-mizutani/wares/pkg/controller/http"
	"github.com/m-mizutani/wares/pkg/service/mcp"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg            config
		addr           string
		webhookSecret  string
		archiveBucket  string
		archivePrefix  string
		requestTimeout time.Duration
		sigTolerance   time.Duration
		enableMCP      bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("WARES_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "webhook-secret",
			Usage:       "Signing secret of webhook deliveries. Webhook is disabled if empty",
			Sources:     cli.EnvVars("WARES_WEBHOOK_SECRET"),
			Destination: &webhookSecret,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket to archive webhook deliveries. Disabled if empty",
			Sources:     cli.EnvVars("WARES_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object name prefix of archived deliveries",
			Value:       "events/",
			Sources:     cli.EnvVars("WARES_ARCHIVE_PREFIX"),
			Destination: &archivePrefix,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "Timeout of a request including model calls",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("WARES_REQUEST_TIMEOUT"),
			Destination: &requestTimeout,
		},
		&cli.DurationFlag{
			Name:        "signature-tolerance",
			Usage:       "Accepted age of a webhook signature timestamp",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("WARES_SIGNATURE_TOLERANCE"),
			Destination: &sigTolerance,
		},
		&cli.BoolFlag{
			Name:        "mcp",
			Usage:       "Serve MCP tools over streamable HTTP at /mcp",
			Sources:     cli.EnvVars("WARES_MCP"),
			Destination: &enableMCP,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server for webhook deliveries and queries",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx, c,
				binding{flag: "addr", set: func(k *koanf.Koanf) { addr = k.String("addr") }},
				binding{flag: "webhook-secret", set: func(k *koanf.Koanf) { webhookSecret = k.String("webhook-secret") }},
				binding{flag: "archive-bucket", set: func(k *koanf.Koanf) { archiveBucket = k.String("archive-bucket") }},
				binding{flag: "archive-prefix", set: func(k *koanf.Koanf) { archivePrefix = k.String("archive-prefix") }},
				binding{flag: "request-timeout", set: func(k *koanf.Koanf) { requestTimeout = k.Duration("request-timeout") }},
				binding{flag: "signature-tolerance", set: func(k *koanf.Koanf) { sigTolerance = k.Duration("signature-tolerance") }},
				binding{flag: "mcp", set: func(k *koanf.Koanf) { enableMCP = k.Bool("mcp") }},
			)
			if err != nil {
				return err
			}
			defer cleanup()
			logger := logging.From(ctx)

			uc, closer, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := []server.Option{
				server.WithTimeout(requestTimeout),
			}
			if webhookSecret != "" {
				opts = append(opts,
					server.WithWebhookSecret(webhookSecret),
					server.WithSignatureTolerance(sigTolerance),
				)
			} else {
				logger.Warn("webhook-secret is not set, webhook endpoint is disabled")
			}
			if archiveBucket != "" {
				archive, err := adapter.NewStorage(ctx, archiveBucket, adapter.WithPrefix(archivePrefix))
				if err != nil {
					return goerr.Wrap(err, "failed to create event archive", goerr.V("bucket", archiveBucket))
				}
				opts = append(opts, server.WithEventArchive(archive))
			}

			var handler http.Handler = server.New(uc, opts...)
			if enableMCP {
				mux := http.NewServeMux()
				mux.Handle("/mcp", mcp.NewServer(uc, mcp.WithImplementation(serviceName, version)).Handler())
				mux.Handle("/", handler)
				handler = mux
			}

			logger.Info("starting server",
				"addr", addr,
				"index_backend", cfg.backend,
				"mcp", enableMCP,
				"archive", archiveBucket != "",
			)
			if err := server.Serve(ctx, addr, handler); err != nil {
				return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
			}
			return nil
		},
	}
}
