package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danieljhkim/nodeprep/internal/engine"
)

var (
	pruneOlderThan string
	pruneDryRun    bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain cached dependency partitions",
	Long: `Inspect and maintain the dependency cache.

Partitions are keyed <platform>-<mode>-<digest> and written once. These
commands operate on the configured backend (local directory or S3).`,
}

var cacheLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cached partitions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx, stop := commandContext()
		defer stop()

		entries, err := eng.ListCache(ctx, &engine.CacheRequest{Cache: settings.Cache})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(entries)
		}

		PrintSection("Cached Partitions")
		if len(entries) == 0 {
			PrintEmptyState("No cached partitions.")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		var total int64
		for _, e := range entries {
			rows = append(rows, []string{e.Key, formatSize(e.SizeBytes), formatAge(e.Age)})
			total += e.SizeBytes
		}
		PrintTable([]string{"KEY", "SIZE", "WRITTEN"}, rows)
		fmt.Println()
		PrintInfo(fmt.Sprintf("  %s, %s total", PrintCount(len(entries), "partition", "partitions"), formatSize(total)))
		return nil
	},
}

var cacheRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a cached partition",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		key := args[0]
		ctx, stop := commandContext()
		defer stop()

		if err := eng.DeleteCache(ctx, &engine.CacheRequest{Cache: settings.Cache}, key); err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]string{"deleted": key})
		}
		PrintSuccess(fmt.Sprintf("Deleted %s", key))
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete partitions older than a given age",
	Long: `Delete cached partitions last written more than --older-than ago.

Ages accept Go durations (36h, 90m) and whole days (7d).
Use --dry-run to preview what would be deleted without deleting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := parseAge(pruneOlderThan)
		if err != nil {
			return err
		}

		settings, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx, stop := commandContext()
		defer stop()

		result, err := eng.PruneCache(ctx, &engine.PruneCacheRequest{
			Cache:     settings.Cache,
			OlderThan: olderThan,
			DryRun:    pruneDryRun,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		if len(result.Removed) == 0 {
			PrintSection("Prune Cache")
			PrintEmptyState(fmt.Sprintf("No partitions older than %s.", pruneOlderThan))
			return nil
		}

		keys := make([]string, 0, len(result.Removed))
		for _, e := range result.Removed {
			keys = append(keys, fmt.Sprintf("%s (%s, %s)", e.Key, formatSize(e.SizeBytes), formatAge(e.Age)))
		}
		count := PrintCount(len(result.Removed), "partition", "partitions")

		if result.DryRun {
			PrintSection("Dry Run")
			PrintInfo(fmt.Sprintf("Would delete %s, freeing %s:", count, formatSize(result.FreedBytes)))
			PrintList(keys, 1)
			fmt.Println()
			PrintWarning("Run without --dry-run to actually delete these partitions.")
		} else {
			PrintSuccess(fmt.Sprintf("Deleted %s, freed %s", count, formatSize(result.FreedBytes)))
		}
		return nil
	},
}

// parseAge parses a Go duration or a whole number of days such as "7d".
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func formatAge(age time.Duration) string {
	now := time.Now()
	return humanize.RelTime(now.Add(-age), now, "ago", "from now")
}

func init() {
	cachePruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "7d", "Minimum age of deleted partitions")
	cachePruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Preview what would be deleted without deleting")

	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheRmCmd)
	cacheCmd.AddCommand(cachePruneCmd)
}
