// Command memomirror mirrors memos from the remote service into a local
// SQLite cache and serves them back offline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kimhsiao/memomirror/cmd/memomirror/handlers"
	"github.com/kimhsiao/memomirror/internal/db"
	"github.com/kimhsiao/memomirror/internal/export"
	"github.com/kimhsiao/memomirror/internal/logging"
	"github.com/kimhsiao/memomirror/internal/models"
	"github.com/kimhsiao/memomirror/internal/remote"
	syncengine "github.com/kimhsiao/memomirror/internal/sync"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultDataDir   = "./data"
	defaultAddr      = "127.0.0.1:8090"
)

func envName(name string) string {
	return "MEMOMIRROR_" + name
}

// openStore opens the cache, applies the schema, and returns the store.
// The returned close function must run before process exit.
func openStore(c *cli.Context) (*db.Store, func(), error) {
	database, err := db.Open(c.String("data-dir"))
	if err != nil {
		return nil, nil, err
	}
	if err := db.Init(database.DB); err != nil {
		database.Close()
		return nil, nil, err
	}
	store := db.NewStore(database.DB)
	closeAll := func() {
		store.Close()
		database.Close()
	}
	return store, closeAll, nil
}

func pagingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "order-by",
			Usage: "sort field ([created_at, updated_at]; unknown values fall back to created_at)",
			Value: "created_at",
		},
		&cli.StringFlag{
			Name:  "direction",
			Usage: "sort direction ([asc, desc])",
			Value: "desc",
		},
		&cli.Int64Flag{Name: "offset", Value: 0},
		&cli.Int64Flag{Name: "limit", Value: 50},
	}
}

func syncCmd() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "run a full resynchronization from the remote service",
		Action: func(c *cli.Context) error {
			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			token := c.String("token")
			if token == "" {
				return fmt.Errorf("an access token is required (--token or %s)", envName("TOKEN"))
			}

			client := remote.NewClient(token)
			engine := syncengine.NewEngine(client, store)
			engine.SetEventHandler(syncengine.EventHandlerFunc(func(event models.ProgressEvent) {
				log.Info().
					Int64("current", event.Current).
					Int64("total", event.Total).
					Str("status", string(event.Status)).
					Msg(event.Message)
			}))

			// Ctrl-C requests a cooperative stop at the next page boundary.
			cancelToken := syncengine.NewToken()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				log.Warn().Msg("interrupt received, cancelling sync at the next page boundary")
				cancelToken.Cancel()
			}()

			result, err := engine.Run(c.Context, cancelToken)
			if err != nil {
				return err
			}

			switch result.State {
			case models.SyncStateCancelled:
				fmt.Fprintf(c.App.Writer, "Sync cancelled, %d memos kept\n", result.Total)
			default:
				fmt.Fprintf(c.App.Writer, "Synced %d memos in %d pages\n", result.Total, result.Pages)
			}
			return nil
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list cached memos (never touches the remote service)",
		Flags: pagingFlags(),
		Action: func(c *cli.Context) error {
			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			memos, err := store.ListMemos(
				c.String("order-by"), c.String("direction"),
				c.Int64("offset"), c.Int64("limit"))
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, export.Table(memos, export.Options{}))
			return nil
		},
	}
}

func searchCmd() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search cached memos by substring over content and tags",
		ArgsUsage: "<query>",
		Flags:     pagingFlags(),
		Action: func(c *cli.Context) error {
			query := c.Args().First()
			if query == "" {
				return fmt.Errorf("a search query is required")
			}

			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			memos, err := store.SearchMemos(query,
				c.String("order-by"), c.String("direction"),
				c.Int64("offset"), c.Int64("limit"))
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, export.Table(memos, export.Options{}))
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the sync status record",
		Action: func(c *cli.Context) error {
			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			status, err := store.GetSyncStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "status:       %s\n", status.Status)
			fmt.Fprintf(c.App.Writer, "total memos:  %d\n", status.TotalMemos)
			if status.LastSyncAt != "" {
				fmt.Fprintf(c.App.Writer, "last sync:    %s\n", status.LastSyncAt)
			}
			if status.ErrorMessage != "" {
				fmt.Fprintf(c.App.Writer, "last error:   %s\n", status.ErrorMessage)
			}
			return nil
		},
	}
}

func clearCmd() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete all cached memos and reset sync status",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "skip confirmation"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return fmt.Errorf("refusing to clear without --yes")
			}

			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "Local cache cleared")
			return nil
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "export cached memos in a human-readable format",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "output format ([json, markdown, table])",
				Value: string(export.FormatJSON),
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "output file (default: stdout)",
			},
			&cli.StringFlag{
				Name:  "date-format",
				Usage: "date format tokens, e.g. \"yyyy-MM-dd HH:mm\" (empty keeps stored timestamps)",
			},
			&cli.StringFlag{
				Name:  "url-mode",
				Usage: "markdown URL rendering ([none, full, id])",
				Value: export.URLModeFull,
			},
			&cli.BoolFlag{Name: "minimal", Usage: "one line per memo (markdown only)"},
			&cli.BoolFlag{Name: "compact", Usage: "no indentation (json only)"},
		},
		Action: func(c *cli.Context) error {
			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			out := os.Stdout
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			service := export.NewService(store)
			count, err := service.Export(out, export.Format(c.String("format")), export.Options{
				DateFormat: c.String("date-format"),
				URLMode:    c.String("url-mode"),
				Minimal:    c.Bool("minimal"),
				Compact:    c.Bool("compact"),
			})
			if err != nil {
				return err
			}
			log.Info().Int("memos", count).Msg("export finished")
			return nil
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the local API and progress WebSocket for GUI shells",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				EnvVars: []string{envName("ADDR")},
				Value:   defaultAddr,
			},
		},
		Action: func(c *cli.Context) error {
			store, closeStore, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			token := c.String("token")
			if token == "" {
				return fmt.Errorf("an access token is required (--token or %s)", envName("TOKEN"))
			}

			client := remote.NewClient(token)
			engine := syncengine.NewEngine(client, store)
			api := handlers.NewAPI(store, engine, handlers.NewWSHub())

			mux := http.NewServeMux()
			api.Register(mux)

			server := &http.Server{Addr: c.String("addr"), Handler: mux}
			go func() {
				<-c.Context.Done()
				server.Shutdown(context.Background())
			}()

			log.Info().Str("addr", c.String("addr")).Msg("serving local API")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func main() {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	logLevel := defaultLogLevel
	logFormat := defaultLogFormat

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := cli.NewApp()
	app.Name = "memomirror"
	app.Usage = "mirror memos from the remote service into a local searchable cache"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level ([trace, debug, info, warn, error])",
			EnvVars:     []string{envName("LOG_LEVEL")},
			Value:       defaultLogLevel,
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format ([auto, human, json])",
			EnvVars:     []string{envName("LOG_FORMAT")},
			Value:       defaultLogFormat,
			Destination: &logFormat,
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "directory holding the local cache",
			EnvVars: []string{envName("DATA_DIR")},
			Value:   defaultDataDir,
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "access token for the remote service",
			EnvVars: []string{envName("TOKEN")},
		},
	}

	app.Before = func(c *cli.Context) error {
		return logging.Setup(logLevel, logFormat)
	}

	app.Commands = []*cli.Command{
		syncCmd(),
		listCmd(),
		searchCmd(),
		statusCmd(),
		clearCmd(),
		exportCmd(),
		serveCmd(),
	}

	if err := app.RunContext(ctx, os.Args); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
