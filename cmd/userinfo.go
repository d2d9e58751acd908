package cmd

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/searcher"
	"github.com/autopt/ptspider/pkg/config"
)

var userinfoRefresh bool

// newUserinfoCmd creates the 'userinfo' subcommand printing account
// statistics for each configured site.
func newUserinfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "userinfo",
		Short: "Show account statistics for each site",
		RunE:  runUserinfoCommand,
	}
	cmd.Flags().BoolVar(&userinfoRefresh, "refresh", true, "fetch a fresh page instead of any cached one")
	return cmd
}

func runUserinfoCommand(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sites, err := loadSites()
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
		info, err := s.GetUserInfo(cmd.Context(), userinfoRefresh)
		if err != nil {
			logger.Warn("userinfo failed", zap.String("site", site.ID), zap.Error(err))
			continue
		}
		ratio := "inf"
		if !math.IsInf(info.ShareRatio, 1) {
			ratio = fmt.Sprintf("%.2f", info.ShareRatio)
		}
		fmt.Printf("%-12s %-16s up %.0fMB down %.0fMB ratio %s seeding %d leeching %d\n",
			site.Name, info.Username, info.UploadedMB, info.DownloadedMB, ratio, info.Seeding, info.Leeching)
	}
	return nil
}
