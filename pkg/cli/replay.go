package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/adapter"
	server "github.com/m-mizutani/wares/pkg/controller/http"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type eventSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type eventHandler interface {
	HandleEvent(ctx context.Context, event *model.Event) error
}

func replayCommand() *cli.Command {
	var (
		cfg           config
		archiveBucket string
		archivePrefix string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket of archived webhook deliveries",
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
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "replay",
		Usage:     "Ingest archived webhook deliveries again, e.g. after rebuilding the index",
		ArgsUsage: "KEY [KEY...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			keys := c.Args().Slice()
			if len(keys) == 0 {
				return goerr.New("at least one archive key is required (e.g. 2024/03/07/evt_1.json)")
			}

			ctx, cleanup, err := cfg.setup(ctx, c,
				binding{flag: "archive-bucket", set: func(k *koanf.Koanf) { archiveBucket = k.String("archive-bucket") }},
				binding{flag: "archive-prefix", set: func(k *koanf.Koanf) { archivePrefix = k.String("archive-prefix") }},
			)
			if err != nil {
				return err
			}
			defer cleanup()

			if archiveBucket == "" {
				return goerr.New("archive-bucket is required")
			}
			archive, err := adapter.NewStorage(ctx, archiveBucket, adapter.WithPrefix(archivePrefix))
			if err != nil {
				return goerr.Wrap(err, "failed to create event archive", goerr.V("bucket", archiveBucket))
			}

			uc, closer, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			return replayEvents(ctx, archive, uc, keys, c.Root().Writer)
		},
	}
}

// replayEvents dispatches archived deliveries in the given order and stops at the first failure
func replayEvents(ctx context.Context, src eventSource, h eventHandler, keys []string, w io.Writer) error {
	for _, key := range keys {
		if err := replayEvent(ctx, src, h, key); err != nil {
			return goerr.Wrap(err, "failed to replay event", goerr.V("key", key))
		}
		fmt.Fprintf(w, "Replayed: %s\n", key)
	}

	logging.From(ctx).Info("replay completed", "count", len(keys))
	return nil
}

func replayEvent(ctx context.Context, src eventSource, h eventHandler, key string) error {
	r, err := src.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to read archived event")
	}

	event, err := server.ParseEvent(body)
	if err != nil {
		return err
	}
	// only deliveries with a valid signature are archived
	event.Verified = true

	return h.HandleEvent(ctx, event)
}
