// Command gcamreader runs a batch of queries against a GCAM scenario
// output database and saves the results as delimited files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gcamkit/gcamreader/internal/config"
	"github.com/gcamkit/gcamreader/internal/logging"
	"github.com/gcamkit/gcamreader/pkg/query"
	"github.com/gcamkit/gcamreader/pkg/runner"
	"github.com/gcamkit/gcamreader/pkg/xmldb"
)

type commonFlags struct {
	queryPath   string
	outputPath  string
	mappingPath string
	scenarios   []string
	regions     []string
	force       bool
}

func main() {
	cfg := config.Load()

	cleanup, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:          "gcamreader",
		Short:        "Run queries against a GCAM scenario database",
		SilenceUsage: true,
	}
	root.AddCommand(localCmd(ctx, cfg), remoteCmd(ctx, cfg))

	if err := root.Execute(); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command, flags *commonFlags) {
	cmd.Flags().StringVarP(&flags.queryPath, "queries", "q", "", "path to the query batch XML file")
	cmd.Flags().StringVarP(&flags.outputPath, "output", "o", "", "directory for output files (omit for a dry run)")
	cmd.Flags().StringVarP(&flags.mappingPath, "mapping", "m", "", "path to a JSON context-mapping file")
	cmd.Flags().StringSliceVarP(&flags.scenarios, "scenario", "s", nil, "scenario names to include")
	cmd.Flags().StringSliceVarP(&flags.regions, "region", "r", nil, "region names to include (overrides per-query filters)")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "overwrite existing output files")
	cmd.MarkFlagRequired("queries")
}

func localCmd(ctx context.Context, cfg *config.Config) *cobra.Command {
	var flags commonFlags
	var dbPath string

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Query a local scenario database directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := xmldb.Open(dbPath, xmldb.WithDocCacheSize(cfg.DocCacheSize))
			if err != nil {
				return err
			}
			defer db.Close()

			return execute(ctx, cfg, flags, db, func() (xmldb.Conn, error) {
				return db.Session(), nil
			})
		},
	}

	cmd.Flags().StringVarP(&dbPath, "database", "d", "", "path to the database directory")
	cmd.MarkFlagRequired("database")
	addCommonFlags(cmd, &flags)
	return cmd
}

func remoteCmd(ctx context.Context, cfg *config.Config) *cobra.Command {
	var flags commonFlags
	rc := xmldb.RemoteConfig{}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a database hosted on a BaseX REST server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.HTTPTimeout > 0 {
				rc.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
			}

			conn, err := xmldb.OpenRemote(ctx, rc)
			if err != nil {
				return err
			}
			defer conn.Close()

			dialCfg := rc
			dialCfg.SkipValidation = true
			return execute(ctx, cfg, flags, conn, func() (xmldb.Conn, error) {
				return xmldb.OpenRemote(ctx, dialCfg)
			})
		},
	}

	cmd.Flags().StringVarP(&rc.Address, "hostname", "n", "localhost", "hostname of the remote server")
	cmd.Flags().IntVarP(&rc.Port, "port", "p", 8984, "port on the remote server")
	cmd.Flags().StringVarP(&rc.Database, "database", "d", "", "name of the database to query")
	cmd.Flags().StringVarP(&rc.Username, "username", "u", "", "username for server authentication")
	cmd.Flags().StringVarP(&rc.Password, "password", "w", "", "password for server authentication")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("username")
	addCommonFlags(cmd, &flags)
	return cmd
}

func execute(ctx context.Context, cfg *config.Config, flags commonFlags, validated xmldb.Conn, dial func() (xmldb.Conn, error)) error {
	slog.Info("parsing query batch", "path", flags.queryPath)
	defs, err := query.LoadBatchFile(flags.queryPath)
	if err != nil {
		return err
	}
	slog.Info("loaded queries", "count", len(defs))

	mapping := query.DefaultMapping()
	if flags.mappingPath != "" {
		if mapping, err = query.LoadMappingFile(flags.mappingPath); err != nil {
			return err
		}
	}

	if scens, err := validated.Scenarios(ctx); err == nil {
		names := make([]string, 0, len(scens.Rows))
		for _, row := range scens.Rows {
			names = append(names, row[0])
		}
		slog.Info("database scenarios", "names", names)
	}

	opts := runner.Options{
		BestEffort:   true,
		Scenarios:    flags.scenarios,
		Mapping:      mapping,
		OutputDir:    flags.outputPath,
		Delim:        cfg.Delimiter(),
		Force:        flags.force,
		Workers:      cfg.Workers,
		QueryTimeout: cfg.QueryTimeout,
	}
	if flags.regions != nil {
		opts.Regions = flags.regions
	}

	result, err := runner.RunParallel(ctx, dial, defs, opts)
	if err != nil {
		return err
	}

	for title, t := range result.Tables {
		if len(t.Rows) == 0 {
			slog.Warn("empty result", "query", title)
		}
	}
	for _, f := range result.Failures {
		slog.Error("query failed", "query", f.Title, "error", f.Err)
	}

	slog.Info("extract complete", "succeeded", len(result.Tables), "failed", len(result.Failures))
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d queries failed", len(result.Failures), len(defs))
	}
	return nil
}
