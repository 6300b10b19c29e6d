package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/qzone"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/repository/jsonfile"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/services"
)

// openStore recovers the record collection from both sinks.
func (c *cli) openStore(cmd *cobra.Command) (*services.RecordStore, func() error, error) {
	journal, err := sqlite.NewJournalRepository(c.cfg.JournalURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	store := services.NewRecordStore(journal, jsonfile.NewSnapshotFile(c.cfg.DBFile), c.log)
	if err := store.Recover(cmd.Context()); err != nil {
		journal.Close()
		return nil, nil, fmt.Errorf("recovering records: %w", err)
	}
	return store, journal.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

func newExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored visit as JSON, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := c.openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			records := store.Snapshot()
			if err := writeJSON(w, records); err != nil {
				return fmt.Errorf("encoding records: %w", err)
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", len(records), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge a JSON data file into the journal and the snapshot",
		Long:  `Merge a JSON data file into the journal and the snapshot.

Stop the server first. A running server rewrites the snapshot from its own
in-memory records, which drops imported rows from the snapshot until it
restarts and replays the journal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			batch, err := jsonfile.DecodeRecords(data)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", file, err)
			}

			store, closeStore, err := c.openStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			added, err := store.Merge(cmd.Context(), batch)
			if err != nil {
				return fmt.Errorf("merging records: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d records\n", len(added), len(batch))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file to import")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRefreshCmd(c *cli) *cobra.Command {
	var bc qzone.BrokerConfig
	cmd := &cobra.Command{
		Use:   "refresh-credentials",
		Short: "Run the login handshake and store a fresh credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			bc.UIN = c.cfg.Visitor.UIN
			broker := qzone.NewBroker(bc, jsonfile.NewCredentialFile(c.cfg.CookieFile), c.log)
			cred, err := broker.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d cookies in %s (issued %s)\n",
				len(cred.Cookies), c.cfg.CookieFile, cred.IssuedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().StringVar(&bc.LoginPageURL, "login-page-url", "", "override the login page endpoint")
	cmd.Flags().StringVar(&bc.LocalAgentURL, "local-agent-url", "", "override the local client endpoint")
	cmd.Flags().StringVar(&bc.JumpURL, "jump-url", "", "override the jump endpoint")
	return cmd
}

func newReportCmd(c *cli) *cobra.Command {
	var (
		week       int
		start, end int64
		scale      int64
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the weekly report, or a custom one with --start and --end",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.cfg.Location()
			if err != nil {
				return err
			}
			engine := services.NewReportEngine(jsonfile.NewSnapshotFile(c.cfg.DBFile), loc, 0, c.log)

			custom := cmd.Flags().Changed("start") || cmd.Flags().Changed("end")
			if !custom {
				report, err := engine.GenerateWeekly(cmd.Context(), min(week, 0))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			}

			if !cmd.Flags().Changed("start") || !cmd.Flags().Changed("end") {
				return errors.New("--start and --end must be given together")
			}
			if scale <= 0 {
				return errors.New("--scale must be positive")
			}
			report, err := engine.Generate(cmd.Context(), start, end, scale)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "week offset, 0 is the current week, -1 the previous one")
	cmd.Flags().Int64Var(&start, "start", 0, "custom range start (unix seconds)")
	cmd.Flags().Int64Var(&end, "end", 0, "custom range end (unix seconds)")
	cmd.Flags().Int64Var(&scale, "scale", 3600, "bucket width in seconds")
	return cmd
}

func newJournalCountCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "journal-count",
		Short: "Count the rows in the visit journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := sqlite.NewJournalRepository(c.cfg.JournalURL)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer journal.Close()

			n, err := journal.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting journal: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
