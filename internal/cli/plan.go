package cli

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/nodeprep/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the cache key and install commands for the working directory",
	Long: `Compute the cache key, lockfiles and install commands for the working
directory and report whether the partition is already cached.

Nothing is checked out, restored or installed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx, stop := commandContext()
		defer stop()

		result, err := eng.Preview(ctx, &engine.PreviewRequest{Settings: settings})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		PrintSection("Install Plan")
		PrintLabelValue("Key", result.Key)
		PrintLabelValue("Platform", result.Platform)
		PrintLabelValue("Mode", string(result.Mode))
		if result.Cached {
			PrintLabelValueWithColor("Cache", "hit", successColor)
		} else {
			PrintLabelValueWithColor("Cache", "miss", warningColor)
		}

		fmt.Println()
		PrintSubsection(PrintCount(len(result.Lockfiles), "lockfile", "lockfiles") + ":")
		PrintList(result.Lockfiles, 2)

		fmt.Println()
		PrintSubsection("Install commands:")
		rows := make([][]string, 0, len(result.Commands))
		for _, c := range result.Commands {
			rows = append(rows, []string{c.Dir, strings.Join(c.Args, " "), path.Join(c.Dir, "node_modules")})
		}
		PrintTable([]string{"DIR", "COMMAND", "CACHED PATH"}, rows)
		if !result.Cached {
			fmt.Println()
			PrintEmptyState("Commands run only on a cache miss.")
		}
		return nil
	},
}

func init() {
	planCmd.Flags().Bool("production", false, "Plan a production install")
}
