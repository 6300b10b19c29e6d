package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/config"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/logging"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "qzone-visitors",
		Short:         "Operator tools for the Qzone visitor monitor",
		Long:          `qzone-visitors inspects and maintains the visitor data kept by the monitor service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig(cmd.ErrOrStderr())
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "config.json", "config file")

	rootCmd.AddCommand(
		newExportCmd(c),
		newImportCmd(c),
		newRefreshCmd(c),
		newReportCmd(c),
		newJournalCountCmd(c),
	)
	return rootCmd
}

func (c *cli) initConfig(stderr io.Writer) error {
	path := c.cfgFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfg = cfg
	c.log = logging.New(cfg.Log, stderr)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
