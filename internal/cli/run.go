package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/nodeprep/internal/engine"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check out, set up Node.js and install dependencies",
	Long: `Prepare node_modules for the working directory.

The run checks out the repository (unless --checkout=false), provisions the
Node.js version named in the version file, then restores node_modules from the
cache. On a miss it runs npm ci in every lockfile directory with lifecycle
scripts disabled and saves the result.

Inputs may also come from INPUT_CHECKOUT and INPUT_PRODUCTION, as set by a
GitHub Actions step, or from NODEPREP_* variables and .nodeprep.yaml.

Use --dry-run to print the cache key and install commands without checking
out, restoring or installing anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, eng, err := setup(cmd)
		if err != nil {
			return err
		}

		ctx, stop := commandContext()
		defer stop()

		result, runErr := eng.Run(ctx, &engine.RunRequest{
			Settings: settings,
			DryRun:   runDryRun,
		})

		if jsonOutput {
			if result != nil {
				if err := outputJSON(result); err != nil {
					return err
				}
			}
			return runErr
		}

		if result != nil {
			printRunResult(result)
		}
		return runErr
	},
}

func printRunResult(result *engine.RunResult) {
	if result.DryRun {
		PrintSection("Dry Run")
		PrintLabelValue("Key", result.Key)
		PrintLabelValue("Mode", string(result.Mode))
		PrintSubsection(fmt.Sprintf("Would install from %s:", PrintCount(len(result.Lockfiles), "lockfile", "lockfiles")))
		PrintList(result.Lockfiles, 2)
		PrintSubsection("Commands on a cache miss:")
		commands := make([]string, 0, len(result.Commands))
		for _, c := range result.Commands {
			commands = append(commands, strings.Join(c, " "))
		}
		PrintList(commands, 2)
		return
	}

	PrintSection("Dependencies")
	if result.Key != "" {
		PrintLabelValue("Key", result.Key)
	}
	if result.NodeVersion != "" {
		PrintLabelValue("Node.js", result.NodeVersion)
	}
	if result.Head != "" {
		PrintLabelValue("Commit", result.Head)
	}
	PrintLabelValue("Duration", result.Duration.Round(time.Millisecond).String())

	for _, w := range result.Warnings {
		PrintWarning(w)
	}

	switch result.Outcome {
	case planner.CacheHit:
		PrintSuccess("Restored node_modules from cache")
	case planner.CacheMissInstalled:
		if result.Saved {
			PrintSuccess("Installed dependencies and saved them to the cache")
		} else {
			PrintSuccess("Installed dependencies")
		}
	case planner.CacheMissInstallFailed:
		PrintError(fmt.Sprintf("Install failed with exit code %d", result.ExitCode))
	}
}

func init() {
	f := runCmd.Flags()
	f.Bool("checkout", true, "Check out the repository before installing")
	f.Bool("production", false, "Install production dependencies only")
	f.String("version-file", "", "Node.js version file, relative to the working directory (default \".nvmrc\")")
	f.String("timeout", "", "Abort the run after this long, e.g. 10m (default: no limit)")
	f.BoolVar(&runDryRun, "dry-run", false, "Print the plan without restoring or installing")
}
