package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/classhub/progression-engine/internal/application/query"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

func init() {
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(levelsCmd)

	for _, c := range []*cobra.Command{progressCmd, historyCmd} {
		c.Flags().StringP("user", "u", "", "Student user id")
		c.Flags().String("classroom", "", "Classroom id (empty for legacy scope)")
		_ = c.MarkFlagRequired("user")
	}
	historyCmd.Flags().StringSlice("type", nil, "Only these ledger types")
	historyCmd.Flags().Int("page", 1, "Page number")
	historyCmd.Flags().Int("page-size", 20, "Entries per page")

	levelsCmd.Flags().String("formula", string(xp.FormulaExponential), "Leveling formula (exponential, linear, logarithmic)")
	levelsCmd.Flags().Int64("base", xp.DefaultBaseXPForLevel2, "XP needed for level 2")
	levelsCmd.Flags().Int("max", 20, "Highest level to print")
	levelsCmd.Flags().Int64("xp", -1, "Print the level for this XP total instead of the table")
}

// ─── progress ───────────────────────────────────────────────────────────────

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show level, XP progress and effective stats",
	RunE:  runProgress,
}

func runProgress(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	classroom, _ := cmd.Flags().GetString("classroom")

	return withApp(cmd, func(ctx context.Context, app *App) error {
		view, err := app.Progress.Handle(ctx, query.GetProgressQuery{UserID: user, ClassroomID: classroom})
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	})
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List wallet ledger entries, newest first",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	classroom, _ := f.GetString("classroom")
	rawTypes, _ := f.GetStringSlice("type")
	page, _ := f.GetInt("page")
	pageSize, _ := f.GetInt("page-size")

	types := make([]ledger.Type, 0, len(rawTypes))
	for _, t := range rawTypes {
		types = append(types, ledger.Type(t))
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := app.History.Handle(ctx, query.WalletHistoryQuery{
			UserID:      user,
			ClassroomID: classroom,
			Types:       types,
			Page:        page,
			PageSize:    pageSize,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	})
}

// ─── levels ─────────────────────────────────────────────────────────────────

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print XP thresholds for a leveling formula",
	Long: `Print the cumulative XP needed for each level, or with --xp the level
a given XP total reaches. Needs no storage.`,
	RunE: runLevels,
}

func runLevels(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	rawFormula, _ := f.GetString("formula")
	base, _ := f.GetInt64("base")
	maxLevel, _ := f.GetInt("max")
	total, _ := f.GetInt64("xp")

	formula := xp.Formula(rawFormula)
	if !formula.IsValid() {
		return fmt.Errorf("unknown leveling formula %q", rawFormula)
	}
	if base <= 0 {
		return fmt.Errorf("--base must be positive")
	}

	out := cmd.OutOrStdout()
	if f.Changed("xp") {
		if total < 0 {
			return fmt.Errorf("--xp must not be negative")
		}
		_, err := fmt.Fprintln(out, xp.LevelFromXP(total, formula, base))
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tXP\tSTEP")
	var prev int64
	for level := 1; level <= maxLevel; level++ {
		threshold := xp.ThresholdForLevel(level, formula, base)
		fmt.Fprintf(w, "%d\t%d\t%d\n", level, threshold, threshold-prev)
		prev = threshold
	}
	return w.Flush()
}
