// Package cmd defines and implements the CLI commands for the ptspider
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/logging"
	"github.com/autopt/ptspider/internal/profile"
	"github.com/autopt/ptspider/internal/searcher"
	"github.com/autopt/ptspider/internal/telemetry"
	"github.com/autopt/ptspider/pkg/config"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

var (
	cfgFile  string
	siteIDs  []string
	allPages bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptspider",
		Short: "A multi-site private tracker search and download tool",
		Long: `ptspider drives NexusPHP-family private tracker sites through
declarative YAML profiles: concurrent keyword search across sites,
latest-torrent listings, account statistics, and torrent downloads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			telemetry.Init()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringSliceVar(&siteIDs, "site", nil, "restrict to these site ids (repeatable)")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newUserinfoCmd())
	cmd.AddCommand(newDownloadCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	return logging.New(config.Development(), config.LogLevel())
}

// loadSites reads every profile from the configured directory, filtered by
// the --site flag when given.
func loadSites() ([]*profile.Site, error) {
	sites, err := profile.LoadDir(config.SitesDir())
	if err != nil {
		return nil, err
	}
	if len(siteIDs) == 0 {
		if len(sites) == 0 {
			return nil, fmt.Errorf("no site profiles found in %s", config.SitesDir())
		}
		return sites, nil
	}
	wanted := make(map[string]bool, len(siteIDs))
	for _, id := range siteIDs {
		wanted[id] = true
	}
	var out []*profile.Site
	for _, s := range sites {
		if wanted[s.ID] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no site profiles match %v", siteIDs)
	}
	return out, nil
}

func parseCates(names []string) ([]ptdomain.CateLevel1, error) {
	cates := make([]ptdomain.CateLevel1, 0, len(names))
	for _, name := range names {
		c, ok := ptdomain.ParseCateLevel1(name)
		if !ok {
			return nil, fmt.Errorf("unknown category %q (known: %v)", name, ptdomain.AllCategories)
		}
		cates = append(cates, c)
	}
	return cates, nil
}

func newBatch(sites []*profile.Site, logger *zap.Logger) (*searcher.Batch, error) {
	creds, err := config.Credentials()
	if err != nil {
		return nil, err
	}
	bcreds := make(map[string]searcher.SiteCredential, len(creds))
	for id, c := range creds {
		bcreds[id] = searcher.SiteCredential{Cookie: c.Cookie, UserAgent: c.UserAgent, Proxy: c.Proxy}
	}
	return searcher.NewBatch(sites, bcreds, searcher.Options{
		ErrorWaitingTime: config.ErrorWaitingTime(),
		Timeout:          config.SearchTimeout(),
		AllPages:         allPages || config.AllPages(),
		Logger:           logger,
	})
}
