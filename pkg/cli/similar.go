package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/urfave/cli/v3"
)

func similarCommand() *cli.Command {
	var (
		cfg         config
		productID   string
		text        string
		limit       int64
		includeSelf bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "product-id",
			Aliases:     []string{"i"},
			Usage:       "Product ID to find similar products",
			Sources:     cli.EnvVars("WARES_PRODUCT_ID"),
			Destination: &productID,
		},
		&cli.StringFlag{
			Name:        "text",
			Aliases:     []string{"t"},
			Usage:       "Free text to find similar products, instead of a product ID",
			Destination: &text,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of similar products to display",
			Value:       5,
			Sources:     cli.EnvVars("WARES_SIMILAR_LIMIT"),
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "include-self",
			Usage:       "Keep products with the same name as the source",
			Destination: &includeSelf,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "similar",
		Usage: "Find similar products by product ID or free text",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if (productID == "") == (text == "") {
				return goerr.New("exactly one of product-id and text is required")
			}

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

			var matches []*model.Match
			if productID != "" {
				matches, err = uc.SimilarToProduct(ctx, model.ProductID(productID), int(limit), !includeSelf)
			} else {
				matches, err = uc.SimilarToText(ctx, text, int(limit))
			}
			if err != nil {
				return goerr.Wrap(err, "failed to search similar products")
			}

			printMatches(c.Root().Writer, matches)
			return nil
		},
	}
}

func printMatches(w io.Writer, matches []*model.Match) {
	if len(matches) == 0 {
		fmt.Fprintf(w, "No similar products found\n")
		return
	}

	fmt.Fprintf(w, "Found %d similar products:\n\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(w, "%d. %s (score: %.4f)\n", i+1, m.ID, m.Score)
		if m.Metadata == nil {
			fmt.Fprintf(w, "\n")
			continue
		}
		fmt.Fprintf(w, "   Name: %s\n", m.Metadata.Name)
		if m.Metadata.Description != "" {
			fmt.Fprintf(w, "   Description: %s\n", m.Metadata.Description)
		}
		keys := make([]string, 0, len(m.Metadata.Attributes))
		for k := range m.Metadata.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   %s: %v\n", k, m.Metadata.Attributes[k])
		}
		fmt.Fprintf(w, "\n")
	}
}
