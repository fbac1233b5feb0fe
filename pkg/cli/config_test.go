package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/wares/pkg/model"
	"github.com/m-mizutani/wares/pkg/repository"
	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// runWithConfig parses args with the index and LLM flags and loads the config file
func runWithConfig(t *testing.T, args ...string) (*config, error) {
	t.Helper()
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	cmd := &cli.Command{
		Name:  "wares",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return cfg.loadFile(c)
		},
	}

	err := cmd.Run(context.Background(), append([]string{"wares"}, args...))
	return &cfg, err
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"index-backend: sqlite",
		"sqlite-path: /tmp/catalog.db",
		"dimension: 256",
		"qdrant-tls: true",
		"gemini-api-key: secret",
		"answer-top-k: 4",
		"temperature: 0.4",
	}, "\n"))

	t.Run("file fills unset flags", func(t *testing.T) {
		cfg, err := runWithConfig(t, "--config", path)
		gt.NoError(t, err)
		gt.Equal(t, cfg.backend, backendSQLite)
		gt.Equal(t, cfg.sqlitePath, "/tmp/catalog.db")
		gt.Equal(t, cfg.dimension, int64(256))
		gt.True(t, cfg.qdrantTLS)
		gt.Equal(t, cfg.geminiAPIKey, "secret")
		gt.Equal(t, cfg.answerTopK, int64(4))
		gt.Equal(t, cfg.temperature, 0.4)
	})

	t.Run("flag takes precedence over file", func(t *testing.T) {
		cfg, err := runWithConfig(t, "--config", path, "--dimension", "128", "--index-backend", "qdrant")
		gt.NoError(t, err)
		gt.Equal(t, cfg.dimension, int64(128))
		gt.Equal(t, cfg.backend, backendQdrant)
		gt.Equal(t, cfg.sqlitePath, "/tmp/catalog.db")
	})

	t.Run("defaults are kept for keys not in file", func(t *testing.T) {
		cfg, err := runWithConfig(t, "--config", path)
		gt.NoError(t, err)
		gt.Equal(t, cfg.geminiLocation, "us-central1")
		gt.Equal(t, cfg.collection, "products")
		gt.Equal(t, cfg.logLevel, "info")
	})

	t.Run("no config file", func(t *testing.T) {
		cfg, err := runWithConfig(t)
		gt.NoError(t, err)
		gt.Equal(t, cfg.backend, backendFirestore)
		gt.Equal(t, cfg.dimension, int64(768))
		gt.True(t, cfg.temperature < 0)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runWithConfig(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		gt.Error(t, err)
	})
}

func TestNewIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config{
			backend:    backendSQLite,
			sqlitePath: filepath.Join(t.TempDir(), "index.db"),
			dimension:  3,
		}
		index, closer, err := cfg.newIndex(ctx)
		gt.NoError(t, err)
		defer closer.Close()

		_, ok := index.(*repository.SQLite)
		gt.True(t, ok)
		gt.Equal(t, index.Dimension(), 3)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &config{backend: "pinecone", dimension: 3}
		_, _, err := cfg.newIndex(ctx)
		gt.Error(t, err)
	})

	t.Run("firestore requires project", func(t *testing.T) {
		cfg := &config{backend: backendFirestore, database: "(default)", dimension: 3}
		_, _, err := cfg.newIndex(ctx)
		gt.Error(t, err)
	})
}

func TestNewUseCaseRejectsTopK(t *testing.T) {
	cfg := &config{backend: backendSQLite, sqlitePath: filepath.Join(t.TempDir(), "index.db"), dimension: 3}
	_, _, err := cfg.newUseCase(context.Background())
	gt.Error(t, err)
}

func TestReadProducts(t *testing.T) {
	t.Run("single JSON object", func(t *testing.T) {
		products, err := readProducts(strings.NewReader(`{"id":"p1","name":"Widget","description":"A widget","metadata":{"color":"red"}}`))
		gt.NoError(t, err)
		gt.A(t, products).Length(1)
		gt.Equal(t, products[0].ID, model.ProductID("p1"))
		gt.Equal(t, products[0].DescriptionOrEmpty(), "A widget")
		gt.Equal(t, products[0].Metadata["color"], "red")
	})

	t.Run("YAML list", func(t *testing.T) {
		products, err := readProducts(strings.NewReader(strings.Join([]string{
			"- id: p1",
			"  name: Widget",
			"  metadata:",
			"    color: red",
			"    stock: 3",
			"- id: p2",
			"  name: Gadget",
			"  description: A gadget",
		}, "\n")))
		gt.NoError(t, err)
		gt.A(t, products).Length(2)
		gt.True(t, products[0].Description == nil)
		gt.Equal(t, products[0].Metadata["stock"], "3")
		gt.Equal(t, products[1].DescriptionOrEmpty(), "A gadget")
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := readProducts(strings.NewReader(""))
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
	})

	t.Run("scalar input", func(t *testing.T) {
		_, err := readProducts(strings.NewReader(`"p1"`))
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
	})

	t.Run("null element", func(t *testing.T) {
		_, err := readProducts(strings.NewReader(`[{"id":"p1","name":"Widget"}, null]`))
		gt.Error(t, err)
	})
}

func TestPrintMatches(t *testing.T) {
	t.Run("with metadata", func(t *testing.T) {
		var buf bytes.Buffer
		printMatches(&buf, []*model.Match{
			{
				ID:    "p2",
				Score: 0.875,
				Metadata: &model.EntryMetadata{
					Name:        "Gadget",
					Description: "A gadget",
					Attributes:  map[string]any{"size": "L", "color": "blue"},
				},
			},
			{ID: "p3", Score: 0.5},
		})

		out := buf.String()
		gt.S(t, out).Contains("Found 2 similar products")
		gt.S(t, out).Contains("1. p2 (score: 0.8750)")
		gt.S(t, out).Contains("Description: A gadget")
		gt.True(t, strings.Index(out, "color: blue") < strings.Index(out, "size: L"))
		gt.S(t, out).Contains("2. p3 (score: 0.5000)")
	})

	t.Run("no matches", func(t *testing.T) {
		var buf bytes.Buffer
		printMatches(&buf, nil)
		gt.Equal(t, buf.String(), "No similar products found\n")
	})
}

type mockEventSource struct {
	bodies map[string]string
}

func (m *mockEventSource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.bodies[key]
	if !ok {
		return nil, model.Upstream(errors.New("object not found: " + key))
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type mockEventHandler struct {
	events []*model.Event
	err    error
}

func (m *mockEventHandler) HandleEvent(ctx context.Context, event *model.Event) error {
	m.events = append(m.events, event)
	return m.err
}

func TestReplayEvents(t *testing.T) {
	ctx := context.Background()
	src := &mockEventSource{bodies: map[string]string{
		"2024/03/07/evt_1.json": `{"id":"evt_1","type":"product.created","data":{"object":{"id":"p1","name":"Widget","metadata":{"color":"red"}}}}`,
		"2024/03/07/evt_2.json": `{"id":"evt_2","type":"product.updated","data":{"object":{"id":"p1"}}}`,
		"2024/03/07/bad.json":   `{"id":`,
	}}

	t.Run("archived events are dispatched as verified", func(t *testing.T) {
		h := &mockEventHandler{}
		var buf bytes.Buffer
		gt.NoError(t, replayEvents(ctx, src, h, []string{"2024/03/07/evt_1.json", "2024/03/07/evt_2.json"}, &buf))

		gt.A(t, h.events).Length(2)
		gt.Equal(t, h.events[0].ID, "evt_1")
		gt.True(t, h.events[0].Verified)
		gt.Equal(t, h.events[0].Product.ID, model.ProductID("p1"))
		gt.Equal(t, h.events[1].Type, "product.updated")
		gt.Equal(t, buf.String(), "Replayed: 2024/03/07/evt_1.json\nReplayed: 2024/03/07/evt_2.json\n")
	})

	t.Run("stops at missing object", func(t *testing.T) {
		h := &mockEventHandler{}
		var buf bytes.Buffer
		err := replayEvents(ctx, src, h, []string{"2024/03/07/nope.json", "2024/03/07/evt_1.json"}, &buf)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrUpstream))
		gt.A(t, h.events).Length(0)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := &mockEventHandler{}
		err := replayEvents(ctx, src, h, []string{"2024/03/07/bad.json"}, io.Discard)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
		gt.A(t, h.events).Length(0)
	})

	t.Run("handler failure", func(t *testing.T) {
		h := &mockEventHandler{err: model.Upstream(errors.New("quota"))}
		var buf bytes.Buffer
		err := replayEvents(ctx, src, h, []string{"2024/03/07/evt_1.json"}, &buf)
		gt.True(t, errors.Is(err, model.ErrUpstream))
		gt.Equal(t, buf.String(), "")
	})
}
