// Command vast runs the telemetry storage and query engine.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ci-fuzz/vast/internal/config"
	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/query"
	"github.com/ci-fuzz/vast/internal/server"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Exit codes: 0 success, 1 generic failure, 2 configuration error.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

var (
	flagConfig      string
	flagDBDirectory string
)

func main() {
	// A .env file can seed VAST_* variables for local development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "vast",
		Short:         "telemetry storage and query engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&flagDBDirectory, "db-directory", "", "database directory")

	root.AddCommand(startCmd(), countCmd(), exportCmd(), getCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.IsKind(err, errors.KindInvalidConfiguration) {
			os.Exit(exitConfig)
		}
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

// loadConfig assembles the effective configuration from defaults, the
// config file, the environment, and flags.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flagConfig != "" {
		loaded, err := config.LoadFromFile(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if flagDBDirectory != "" {
		cfg.DBDirectory = flagDBDirectory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine opens an embedded engine for one command invocation.
func openEngine(ctx context.Context) (*server.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	engine, err := server.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "launch the engine and serve the HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, cfg, err := openEngine(ctx)
			if err != nil {
				return err
			}
			httpServer := server.NewHTTPServer(engine, newLogger(cfg))
			endpoint, err := httpServer.Listen(cfg.ListenAddr)
			if err != nil {
				return err
			}
			fmt.Println(endpoint)

			<-ctx.Done()
			shutdownCtx := context.Background()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return engine.Close(shutdownCtx)
		},
	}
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <expr>",
		Short: "return the number of matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			q, err := engine.Submit(ctx, args[0], query.Options{})
			if err != nil {
				return err
			}
			var n uint64
			for range q.Hits {
				n++
			}
			if err := q.Err(); err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <format> <expr>",
		Short: "stream matches encoded in the chosen format (json, csv)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, input := args[0], args[1]
			switch format {
			case "json", "csv":
			default:
				return errors.New(errors.KindInvalidConfiguration,
					"unsupported export format %s", format)
			}

			ctx := cmd.Context()
			engine, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			q, err := engine.Submit(ctx, input, query.Options{})
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				for hit := range q.Hits {
					if err := enc.Encode(server.HitDocument(hit)); err != nil {
						return err
					}
				}
			case "csv":
				w := csv.NewWriter(os.Stdout)
				defer w.Flush()
				var header []string
				for hit := range q.Hits {
					if header == nil {
						header = []string{"type", "id"}
						for _, qf := range hit.Layout.QualifiedFields() {
							header = append(header, qf.FieldPath)
						}
						if err := w.Write(header); err != nil {
							return err
						}
					}
					record := []string{hit.Layout.Name(), strconv.FormatUint(hit.ID, 10)}
					for _, d := range hit.Row {
						record = append(record, types.DataString(d))
					}
					if err := w.Write(record); err != nil {
						return err
					}
				}
			}
			return q.Err()
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>...",
		Short: "retrieve events by literal ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sel types.IDSet
			for _, arg := range args {
				id, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return errors.Wrap(errors.KindParse, err, "invalid event ID %q", arg)
				}
				sel = sel.Union(types.MakeInterval(id, id+1))
			}

			ctx := cmd.Context()
			engine, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			slices, err := engine.Get(sel)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, ts := range slices {
				for i := 0; i < ts.Rows(); i++ {
					hit := query.Hit{Layout: ts.Layout, ID: ts.RowID(i), Row: ts.Row(i)}
					if err := enc.Encode(server.HitDocument(hit)); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "emit a JSON status document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(engine.Status(detailed))
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include per-component details")
	return cmd
}
