package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"stackalign/internal/config"
	"stackalign/internal/runner"
	"stackalign/internal/session"
	"stackalign/internal/storage"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, run *runner.Runner) *cobra.Command {
	root := NewRoot(run, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "stackalign",
		Short: "Stackalign aligns imaging sessions and exports merged stacks",
		Long: `Stackalign reduces imaging sessions to per-session mean frames, applies
operator-chosen shift, rotation, and scale corrections, and streams every
frame into a single merged stack.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newDiscoverCmd(root))
	rootCmd.AddCommand(newReduceCmd(root))
	rootCmd.AddCommand(newCachedCmd(root))
	rootCmd.AddCommand(newParamsCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newDiscoverCmd(root *Root) *cobra.Command {
	var (
		format string
		counts bool
	)

	cmd := &cobra.Command{
		Use:   "discover <folder>",
		Short: "List the sessions a folder holds",
		Long: `Walk a folder recursively for session files of the chosen format and
list them in the index order every other command uses.

Examples:
  stackalign discover /data/run42/
  stackalign discover /data/run42/ --format tiff --counts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return root.runDiscover(args[0], f, counts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "sbx", "session format (sbx|tiff)")
	cmd.Flags().BoolVar(&counts, "counts", false, "open each session and report frame counts and geometry")

	return cmd
}

func newReduceCmd(root *Root) *cobra.Command {
	var (
		format      string
		sampleLimit int
		noCache     bool
	)

	cmd := &cobra.Command{
		Use:   "reduce <folder>",
		Short: "Compute per-session mean frames",
		Long: `Average a sample of each session's leading frames into one mean frame
per session. The result is cached inside the folder, so repeating the
command is free until the session files change.

Examples:
  stackalign reduce /data/run42/
  stackalign reduce /data/run42/ --sample-limit 50 --no-cache`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return root.runReduce(cmd.Context(), args[0], f, sampleLimit, noCache)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "sbx", "session format (sbx|tiff)")
	cmd.Flags().IntVar(&sampleLimit, "sample-limit", 0, "frames sampled per session (0 = configured default)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore the cached reduction and recompute")

	return cmd
}

func newCachedCmd(root *Root) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "cached <folder>",
		Short: "Show the folder's cached reduction and whether it is current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return root.runCached(args[0], f)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "sbx", "session format (sbx|tiff)")

	return cmd
}

func newParamsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Inspect and edit per-session alignment parameters",
		Long: `Alignment parameters live in the session folder as indented JSON, so
they survive closing the tool and can be hand-edited or diffed.

Examples:
  stackalign params show /data/run42/
  stackalign params set /data/run42/ 2 --x-shift 14 --rotation 90
  stackalign params ref /data/run42/ 0`,
	}

	showCmd := &cobra.Command{
		Use:   "show <folder>",
		Short: "Show the saved parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runParamsShow(args[0])
		},
	}

	var (
		xShift   int
		yShift   int
		rotation float64
		scale    float64
	)
	setCmd := &cobra.Command{
		Use:   "set <folder> <session-index>",
		Short: "Set corrections for one session",
		Long: `Set shift, rotation, or scale for one session. Flags left out keep the
session's current value, so corrections can be refined one axis at a time.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("session index %q is not a number", args[1])
			}
			var upd paramUpdate
			if cmd.Flags().Changed("x-shift") {
				upd.XShift = &xShift
			}
			if cmd.Flags().Changed("y-shift") {
				upd.YShift = &yShift
			}
			if cmd.Flags().Changed("rotation") {
				upd.Rotation = &rotation
			}
			if cmd.Flags().Changed("scale") {
				upd.Scale = &scale
			}
			return root.runParamsSet(args[0], index, upd)
		},
	}
	setCmd.Flags().IntVar(&xShift, "x-shift", 0, "horizontal shift in whole pixels (positive moves right)")
	setCmd.Flags().IntVar(&yShift, "y-shift", 0, "vertical shift in whole pixels (positive moves down)")
	setCmd.Flags().Float64Var(&rotation, "rotation", 0, "rotation in degrees counterclockwise")
	setCmd.Flags().Float64Var(&scale, "scale", 1.0, "scale factor (1.0 = none)")

	refCmd := &cobra.Command{
		Use:   "ref <folder> <session-index>",
		Short: "Choose the reference session others align to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("session index %q is not a number", args[1])
			}
			return root.runParamsRef(args[0], index)
		},
	}

	cmd.AddCommand(showCmd, setCmd, refCmd)
	return cmd
}

func newExportCmd(root *Root) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <folder>",
		Short: "Export every session's frames into one aligned stack",
		Long: `Stream every session's frames through the saved corrections into a
single multi-page stack. The reference session passes through untouched.

Examples:
  stackalign export /data/run42/
  stackalign export /data/run42/ --output /results/run42_stack.tiff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return root.runExport(cmd.Context(), args[0], f, output)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "sbx", "session format (sbx|tiff)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output stack path (default: <folder>/"+session.ExportedStackName+")")

	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reduce and export runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			return root.runHistory(limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		format string
		evict  bool
	)

	cmd := &cobra.Command{
		Use:   "watch <folder>",
		Short: "Watch a folder and report when the cached reduction goes stale",
		Long: `Follow a session folder for file changes and report, after each burst
settles, whether the cached reduction still matches the files on disk.

Examples:
  stackalign watch /data/run42/
  stackalign watch /data/run42/ --evict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := session.ParseFormat(format)
			if err != nil {
				return err
			}
			return root.runWatch(cmd.Context(), args[0], f, evict)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "sbx", "session format (sbx|tiff)")
	cmd.Flags().BoolVar(&evict, "evict", false, "evict the cached reduction as soon as it goes stale")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate stackalign configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("stackalign v" + version)
		},
	}
}
