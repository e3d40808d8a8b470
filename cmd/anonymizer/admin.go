package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-anonymizer/internal/anonymizer"
	"github.com/raaihank/pii-anonymizer/internal/export"
	"github.com/raaihank/pii-anonymizer/internal/store"
)

func newInitDBCmd(opts *rootOptions) *cobra.Command {
	var seed int

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the schema and the initial configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			p, err := buildPipeline(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Database ready (%s), configuration version %d\n",
				p.db.Driver(), p.settings.Current().Version)

			if seed <= 0 {
				return nil
			}
			res, err := p.anonymizer.AnonymizeBatch(cmd.Context(), sampleTexts(seed), anonymizer.Options{})
			if err != nil {
				return fmt.Errorf("failed to seed mappings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d texts, %d entities anonymized\n",
				res.BatchMetadata.Succeeded, res.BatchMetadata.TotalEntitiesAnonymized)
			return nil
		},
	}
	cmd.Flags().IntVar(&seed, "seed", 0, "Anonymize this many generated sample texts to populate mappings")
	return cmd
}

// sampleTexts builds synthetic records that contain detectable PII.
func sampleTexts(n int) []string {
	f := gofakeit.New(0)
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Customer email %s, card %s, connected from %s on %s",
			f.Email(), f.CreditCardNumber(nil), f.IPv4Address(), f.Date().Format("2006-01-02"))
	}
	return texts
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print mapping statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f export.Format
			if format != "table" {
				var err error
				f, err = export.ParseFormat(format)
				if err != nil || f == export.FormatParquet {
					return fmt.Errorf("unsupported format %q: use table, json or csv", format)
				}
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := store.Open(cmd.Context(), cfg.Database, log.Logger)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := store.NewMappingStore(db, cfg.Anonymizer.SynthesisAttempts, log.Logger).Stats(cmd.Context())
			if err != nil {
				return err
			}

			if format == "table" {
				printStatsTable(cmd.OutOrStdout(), stats)
				return nil
			}
			return export.WriteStats(cmd.OutOrStdout(), f, stats)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or csv")
	return cmd
}

func printStatsTable(w io.Writer, stats *store.Stats) {
	header := color.New(color.FgGreen, color.Underline).SprintFunc()

	table := uitable.New()
	table.AddRow(header("ENTITY TYPE"), header("UNIQUE VALUES"), header("SUBSTITUTIONS"))
	for _, ts := range stats.EntityTypes {
		table.AddRow(ts.EntityType, ts.MappingCount, ts.TotalUsage)
	}
	table.AddRow("TOTAL", stats.TotalMappings, stats.TotalUsage)

	fmt.Fprintln(w, table)
	if stats.OldestMapping != nil && stats.NewestMapping != nil {
		fmt.Fprintf(w, "\nFirst mapping %s, latest %s\n",
			stats.OldestMapping.Format(time.RFC3339), stats.NewestMapping.Format(time.RFC3339))
	}
}

func newExportMappingsCmd(opts *rootOptions) *cobra.Command {
	var (
		since, until string
		entityType   string
		format       string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "export-mappings",
		Short: "Export mappings without original values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := export.DetectFormat(output)
			if format != "" {
				var err error
				if f, err = export.ParseFormat(format); err != nil {
					return err
				}
			}

			filter := store.ExportFilter{EntityType: entityType}
			var err error
			if filter.Since, err = parseTimeFlag("since", since); err != nil {
				return err
			}
			if filter.Until, err = parseTimeFlag("until", until); err != nil {
				return err
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := store.Open(cmd.Context(), cfg.Database, log.Logger)
			if err != nil {
				return err
			}
			defer db.Close()

			mappings, err := store.NewMappingStore(db, cfg.Anonymizer.SynthesisAttempts, log.Logger).Export(cmd.Context(), filter)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer file.Close()
				w = file
			}
			if err := export.WriteMappings(w, f, mappings); err != nil {
				return err
			}
			log.Info("Mappings exported",
				zap.Int("count", len(mappings)),
				zap.String("format", string(f)),
				zap.String("output", output))
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only mappings last used at or after this RFC 3339 time")
	cmd.Flags().StringVar(&until, "until", "", "Only mappings last used at or before this RFC 3339 time")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Only mappings of this entity type")
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, csv or parquet (default from the output extension)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be an RFC 3339 timestamp: %w", name, err)
	}
	return &t, nil
}

func newResetMappingsCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset-mappings",
		Short: "Delete every mapping so future values get new substitutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete all mappings without --yes")
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := store.Open(cmd.Context(), cfg.Database, log.Logger)
			if err != nil {
				return err
			}
			defer db.Close()

			deleted, err := store.NewMappingStore(db, cfg.Anonymizer.SynthesisAttempts, log.Logger).DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d mappings\n", deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func newHealthcheckCmd(opts *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check a running server and exit non-zero when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" || host == "::" {
					host = "localhost"
				}
				url = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + "/health"
			}
			return checkHealth(cmd.Context(), url, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Health endpoint (default from the server configuration)")
	return cmd
}

func checkHealth(ctx context.Context, url string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(parentOrBackground(ctx), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "Health check passed")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pii-anonymizer %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
