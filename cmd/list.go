package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/profile"
	"github.com/autopt/ptspider/internal/searcher"
	"github.com/autopt/ptspider/internal/session"
	"github.com/autopt/ptspider/pkg/config"
)

var listCates []string

// newListCmd creates the 'list' subcommand showing the latest torrents of
// each configured site.
func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the latest torrents of each site",
		RunE:  runListCommand,
	}
	cmd.Flags().StringSliceVar(&listCates, "cate", nil, "level-1 category filter")
	return cmd
}

func runListCommand(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sites, err := loadSites()
	if err != nil {
		return err
	}
	cates, err := parseCates(listCates)
	if err != nil {
		return err
	}

	for _, site := range sites {
		helper, err := buildHelper(site, logger)
		if err != nil {
			return err
		}
		s := searcher.New(helper, searcher.Options{
			ErrorWaitingTime: config.ErrorWaitingTime(),
			Timeout:          config.SearchTimeout(),
			Logger:           logger,
		})
		res, err := s.List(cmd.Context(), cates)
		if err != nil {
			return err
		}
		printTorrents(site.Name, res.Data)
	}
	return nil
}

func buildHelper(site *profile.Site, logger *zap.Logger) (session.Helper, error) {
	creds, err := config.Credentials()
	if err != nil {
		return nil, err
	}
	cred := creds[site.ID]
	opts := []session.Option{session.WithLogger(logger)}
	if cred.Cookie != "" {
		opts = append(opts, session.WithCookie(cred.Cookie))
	}
	if cred.UserAgent != "" {
		opts = append(opts, session.WithUserAgent(cred.UserAgent))
	}
	if cred.Proxy != "" {
		opts = append(opts, session.WithProxy(cred.Proxy))
	}
	return session.Build(site, opts...)
}
