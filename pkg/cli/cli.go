package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// version is overwritten at build time with -ldflags
var version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "wares",
		Usage:   "Semantic search and question answering over a product catalog",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			replayCommand(),
			similarCommand(),
			askCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
