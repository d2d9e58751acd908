package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/searcher"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

var (
	searchCates []string
	searchImdb  string
	searchFree  bool
	searchJSON  bool
)

// newSearchCmd creates the 'search' subcommand: a concurrent keyword
// search across every configured site.
func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [keywords...]",
		Short: "Search torrents across all configured sites",
		Long: `Runs the query against every configured site concurrently and
prints per-site results as they finish. Multiple keywords are searched
one after another on each site and merged, first occurrence wins.`,
		RunE: runSearchCommand,
	}
	cmd.Flags().StringSliceVar(&searchCates, "cate", nil, "level-1 category filter (movie, tv, music, ...)")
	cmd.Flags().StringVar(&searchImdb, "imdb", "", "IMDb id to search for")
	cmd.Flags().BoolVar(&searchFree, "free", false, "only freeleech torrents")
	cmd.Flags().BoolVar(&allPages, "all-pages", false, "walk every result page")
	cmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON lines")
	return cmd
}

func runSearchCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && searchImdb == "" {
		return fmt.Errorf("nothing to search: give keywords or --imdb")
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sites, err := loadSites()
	if err != nil {
		return err
	}
	batch, err := newBatch(sites, logger)
	if err != nil {
		return err
	}

	var terms []searcher.Term
	for _, kw := range args {
		terms = append(terms, searcher.Term{Key: "keyword", Value: kw})
	}
	if searchImdb != "" {
		terms = append(terms, searcher.Term{Key: "imdb_id", Value: searchImdb})
	}
	cates, err := parseCates(searchCates)
	if err != nil {
		return err
	}

	logger.Info("starting batch search",
		zap.String("batch", batch.ID()), zap.Int("sites", len(sites)), zap.Strings("keywords", args))

	total := 0
	for msg := range batch.Run(cmd.Context(), terms, cates, searchFree) {
		switch msg.Type {
		case searcher.TypeAllFinished:
			logger.Info("batch finished", zap.String("batch", msg.BatchID), zap.Int("torrents", total))
		case searcher.TypeResult:
			total += len(msg.Data)
			printTorrents(msg.SiteName, msg.Data)
		default:
			logger.Warn("site failed",
				zap.String("site", msg.SiteID), zap.String("type", string(msg.Type)),
				zap.Duration("runtime", msg.Runtime), zap.String("err", msg.ErrMsg))
		}
	}
	return nil
}

func printTorrents(siteName string, torrents []ptdomain.Torrent) {
	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, t := range torrents {
			enc.Encode(t) //nolint:errcheck
		}
		return
	}
	for _, t := range torrents {
		fmt.Printf("%-12s %8.0fMB  %4d/%-4d  %s\n", siteName, t.SizeMB, t.Seeders, t.Leechers, t.Name)
	}
}
