package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func ingestCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON or YAML file with a product or a list of products. '-' reads stdin",
			Sources:     cli.EnvVars("WARES_INPUT"),
			Destination: &inputPath,
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Index products from a file as a trusted operator",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, cleanup, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cleanup()

			var r io.Reader = os.Stdin
			if inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return goerr.Wrap(err, "failed to open input file", goerr.V("path", inputPath))
				}
				defer f.Close()
				r = f
			}

			products, err := readProducts(r)
			if err != nil {
				return goerr.Wrap(err, "failed to read products", goerr.V("path", inputPath))
			}

			uc, closer, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			for i, p := range products {
				// Local input comes from the operator, so it is trusted without a signature
				event := &model.Event{
					ID:       fmt.Sprintf("local_%d", i),
					Type:     model.EventTypeProductCreated,
					Product:  p,
					Verified: true,
				}
				if err := uc.HandleEvent(ctx, event); err != nil {
					return goerr.Wrap(err, "failed to ingest product", goerr.V("product_id", p.ID), goerr.V("index", i))
				}
				fmt.Fprintf(c.Root().Writer, "Indexed: %s\n", p.ID)
			}

			logging.From(ctx).Info("ingestion completed", "count", len(products))
			return nil
		},
	}
}

// readProducts decodes a single product or a list of products. YAML is a
// superset of JSON so both formats go through the YAML decoder.
func readProducts(r io.Reader) ([]*model.Product, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, goerr.Wrap(model.ErrInvalidInput, "input is empty")
		}
		return nil, goerr.Wrap(model.ErrInvalidInput, "failed to parse input", goerr.V("cause", err.Error()))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "input is empty")
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var products []*model.Product
		if err := root.Decode(&products); err != nil {
			return nil, goerr.Wrap(model.ErrInvalidInput, "failed to decode products", goerr.V("cause", err.Error()))
		}
		for i, p := range products {
			if p == nil {
				return nil, goerr.Wrap(model.ErrInvalidInput, "product is null", goerr.V("index", i))
			}
		}
		return products, nil

	case yaml.MappingNode:
		var p model.Product
		if err := root.Decode(&p); err != nil {
			return nil, goerr.Wrap(model.ErrInvalidInput, "failed to decode product", goerr.V("cause", err.Error()))
		}
		return []*model.Product{&p}, nil

	default:
		return nil, goerr.Wrap(model.ErrInvalidInput, "input must be an object or a list of objects")
	}
}
