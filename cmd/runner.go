package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/nathom/streamrip-sub000/internal/rip"
	"github.com/nathom/streamrip-sub000/internal/shared"
	"github.com/nathom/streamrip-sub000/internal/urls"
)

// Runner holds the dependencies of the CLI commands.
type Runner struct {
	logger *log.Logger
	output io.Writer
}

// NewRunner creates a Runner writing to stdout.
func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Runner{logger: logger, output: os.Stdout}
}

// configPath resolves the --config flag, defaulting to the per-user
// config directory.
func (r *Runner) configPath(cmd *cli.Command) (string, error) {
	if path := cmd.String("config"); path != "" {
		return path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate config directory: %w", err)
	}
	return filepath.Join(dir, "streamrip", "config.toml"), nil
}

func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	path, err := r.configPath(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("config file not found, using defaults", "path", path)
		return shared.DefaultConfig(), nil
	}
	return shared.LoadConfig(path)
}

// run builds the engine for one command invocation and tears it down
// afterwards.
func (r *Runner) run(ctx context.Context, cmd *cli.Command, fn func(*rip.Rip) error) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	engine, err := rip.New(cfg, r.logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}

// URL downloads every URL given as an argument.
func (r *Runner) URL(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("no URLs given")
	}
	return r.run(ctx, cmd, func(engine *rip.Rip) error {
		return engine.URLs(ctx, args)
	})
}

// File downloads every URL found in a text file.
func (r *Runner) File(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("no file given")
	}
	return r.run(ctx, cmd, func(engine *rip.Rip) error {
		return engine.File(ctx, path)
	})
}

// Search queries one service and prints a result summary per line.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("no query given")
	}
	source := cmd.String("source")
	mediaType := urls.MediaType(cmd.String("type"))
	limit := cmd.Int("limit")

	return r.run(ctx, cmd, func(engine *rip.Rip) error {
		results, err := engine.Search(ctx, source, mediaType, query, limit)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			enc := json.NewEncoder(r.output)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for i, raw := range results {
			fmt.Fprintf(r.output, "%2d. %s\n", i+1, summarizeResult(raw))
		}
		return nil
	})
}

// Failed lists every failure tuple recorded in the ledger.
func (r *Runner) Failed(ctx context.Context, cmd *cli.Command) error {
	return r.run(ctx, cmd, func(engine *rip.Rip) error {
		failed := engine.Failed()
		if len(failed) == 0 {
			fmt.Fprintln(r.output, "no failed downloads recorded")
			return nil
		}
		for _, f := range failed {
			fmt.Fprintf(r.output, "%s\t%s\t%s\n", f.Source, f.MediaType, f.ID)
		}
		return nil
	})
}

// ConfigCreate writes a fresh default config file.
func (r *Runner) ConfigCreate(ctx context.Context, cmd *cli.Command) error {
	path, err := r.configPath(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("wrote default config", "path", path)
	return nil
}

// ConfigShow prints the resolved config path and its contents.
func (r *Runner) ConfigShow(ctx context.Context, cmd *cli.Command) error {
	path, err := r.configPath(cmd)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("no config at %s, run `rip config create` first: %w", path, err)
	}
	fmt.Fprintln(r.output, path)
	fmt.Fprint(r.output, string(data))
	return nil
}

// summarizeResult renders one search hit as a single line, probing the
// handful of fields the services agree on.
func summarizeResult(raw json.RawMessage) string {
	var doc struct {
		Title     string `json:"title"`
		Name      string `json:"name"`
		Performer struct {
			Name string `json:"name"`
		} `json:"performer"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "(unreadable result)"
	}

	title := doc.Title
	if title == "" {
		title = doc.Name
	}
	artist := doc.Performer.Name
	if artist == "" {
		artist = doc.Artist.Name
	}
	if artist == "" {
		artist = doc.User.Username
	}
	if artist != "" {
		return fmt.Sprintf("%s - %s [%s]", artist, title, doc.ID)
	}
	return fmt.Sprintf("%s [%s]", title, doc.ID)
}
