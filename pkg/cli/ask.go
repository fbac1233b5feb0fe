package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/interfaces"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg         config
		question    string
		interactive bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question about the catalog",
			Destination: &question,
		},
		&cli.BoolFlag{
			Name:        "interactive",
			Usage:       "Ask questions in an interactive session",
			Destination: &interactive,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "ask",
		Usage: "Answer a question with products in the catalog as context",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			uc, closer, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			w := c.Root().Writer
			if interactive {
				return askLoop(ctx, uc, w)
			}

			answer, err := askOnce(ctx, uc, question)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, answer)
			return nil
		},
	}
}

// askOnce returns the generated answer. A validation message is returned as an error.
func askOnce(ctx context.Context, uc interfaces.ProductUseCase, question string) (string, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " thinking..."
	s.Start()
	result, err := uc.Answer(ctx, question)
	s.Stop()

	if err != nil {
		return "", goerr.Wrap(err, "failed to answer question")
	}
	if result.Validation != "" {
		return "", goerr.Wrap(model.ErrInvalidInput, result.Validation)
	}
	return result.Text(), nil
}

func askLoop(ctx context.Context, uc interfaces.ProductUseCase, w io.Writer) error {
	rlCfg := &readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	}
	if home, err := os.UserHomeDir(); err == nil {
		rlCfg.HistoryFile = filepath.Join(home, ".wares_history")
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return goerr.Wrap(err, "failed to start readline")
	}
	defer rl.Close()

	fmt.Fprintf(w, "Ask about the catalog. Type 'exit' to quit.\n")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "exit" {
			return nil
		}
		if line == "" {
			continue
		}

		answer, err := askOnce(ctx, uc, line)
		if err != nil {
			// keep the session alive on a failed question
			fmt.Fprintf(w, "Error: %s\n\n", err.Error())
			continue
		}
		fmt.Fprintf(w, "%s\n\n", answer)

		if ctx.Err() != nil {
			return nil
		}
	}
}
