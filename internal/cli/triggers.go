package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/classhub/progression-engine/internal/application/command"
	"github.com/classhub/progression-engine/internal/domain/ledger"
)

// ─── Progression triggers ───────────────────────────────────────────────────
// Each command runs one handler and prints its result as JSON. An empty
// --classroom addresses the legacy (pre-classroom) scope.

func init() {
	rootCmd.AddCommand(awardCmd)
	rootCmd.AddCommand(awardGroupCmd)
	rootCmd.AddCommand(adjustStatsCmd)
	rootCmd.AddCommand(consumeShieldCmd)
	rootCmd.AddCommand(groupChangedCmd)

	for _, c := range []*cobra.Command{awardCmd, adjustStatsCmd, consumeShieldCmd} {
		c.Flags().StringP("user", "u", "", "Student user id")
		c.Flags().String("classroom", "", "Classroom id (empty for legacy scope)")
		_ = c.MarkFlagRequired("user")
	}

	for _, c := range []*cobra.Command{awardCmd, awardGroupCmd} {
		c.Flags().Int64P("amount", "a", 0, "Bits to grant (negative to debit)")
		c.Flags().StringP("description", "d", "", "Ledger description")
		c.Flags().String("by", "", "Teacher or system id that assigned the bits")
		c.Flags().Bool("personal", true, "Apply the personal multiplier to positive amounts")
		c.Flags().Bool("group", true, "Apply the group multiplier to positive amounts")
		c.Flags().String("key", "", "Idempotency key")
		_ = c.MarkFlagRequired("amount")
	}
	awardCmd.Flags().String("type", "", "Ledger type (manual_grant, group_grant, feedback, debit)")
	awardCmd.Flags().Bool("skip-xp", false, "Do not award XP for this grant")
	awardGroupCmd.Flags().StringP("group-id", "g", "", "Group id")
	_ = awardGroupCmd.MarkFlagRequired("group-id")

	adjustStatsCmd.Flags().Float64("multiplier", 0, "Personal multiplier delta")
	adjustStatsCmd.Flags().Float64("luck", 0, "Luck delta")
	adjustStatsCmd.Flags().Float64("discount", 0, "Discount delta in percent")
	adjustStatsCmd.Flags().Float64("set-discount", 0, "Replace the discount instead of adding")
	adjustStatsCmd.Flags().Duration("discount-for", 0, "Make the resulting discount expire after this long")
	adjustStatsCmd.Flags().Int("shields", 0, "Shield count delta")
	adjustStatsCmd.Flags().Int64("cost", 0, "Bits debited as item usage")
	adjustStatsCmd.Flags().Bool("stat-xp", false, "Award XP for each increased attribute")
	adjustStatsCmd.Flags().String("by", "", "Actor id")
	adjustStatsCmd.Flags().String("reason", "", "Reason shown in notifications")
	adjustStatsCmd.Flags().String("key", "", "Idempotency key")

	consumeShieldCmd.Flags().String("attacker", "", "Id of the attacking student")
	consumeShieldCmd.Flags().String("reason", "", "Reason shown in notifications")

	groupChangedCmd.Flags().StringP("group-id", "g", "", "Group id")
	groupChangedCmd.Flags().Float64("previous", 0, "Multiplier before the external edit")
	groupChangedCmd.Flags().Float64("set", 0, "Store this multiplier first and take the old one as previous")
	groupChangedCmd.Flags().String("by", "", "Actor id")
	_ = groupChangedCmd.MarkFlagRequired("group-id")
}

// ─── award ──────────────────────────────────────────────────────────────────

var awardCmd = &cobra.Command{
	Use:   "award",
	Short: "Grant or debit bits for one student",
	Long: `Apply a bit grant or debit. Positive amounts are scaled by the stacked
personal and group multipliers and award XP; the balance never drops
below zero.`,
	RunE: runAward,
}

func runAward(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	classroom, _ := f.GetString("classroom")
	amount, _ := f.GetInt64("amount")
	typ, _ := f.GetString("type")
	desc, _ := f.GetString("description")
	by, _ := f.GetString("by")
	personal, _ := f.GetBool("personal")
	grp, _ := f.GetBool("group")
	skipXP, _ := f.GetBool("skip-xp")
	key, _ := f.GetString("key")

	return withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := app.AwardBits.Handle(ctx, command.AwardBitsCommand{
			UserID:                  user,
			ClassroomID:             classroom,
			Amount:                  amount,
			Type:                    ledger.Type(typ),
			Description:             desc,
			AssignedBy:              by,
			ApplyPersonalMultiplier: personal,
			ApplyGroupMultiplier:    grp,
			SkipXP:                  skipXP,
			IdempotencyKey:          key,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	})
}

// ─── award-group ────────────────────────────────────────────────────────────

var awardGroupCmd = &cobra.Command{
	Use:   "award-group",
	Short: "Grant bits to every approved member of a group",
	Long: `Run one grant per approved member. A member that fails does not stop
the others; the exit status is non-zero when any member failed.`,
	RunE: runAwardGroup,
}

type memberView struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount,omitempty"`
	Balance int64  `json:"balance,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runAwardGroup(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	groupID, _ := f.GetString("group-id")
	amount, _ := f.GetInt64("amount")
	desc, _ := f.GetString("description")
	by, _ := f.GetString("by")
	personal, _ := f.GetBool("personal")
	grp, _ := f.GetBool("group")
	key, _ := f.GetString("key")

	return withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := app.AwardGroupBits.Handle(ctx, command.AwardGroupBitsCommand{
			GroupID:                 groupID,
			Amount:                  amount,
			Description:             desc,
			AssignedBy:              by,
			ApplyPersonalMultiplier: personal,
			ApplyGroupMultiplier:    grp,
			IdempotencyKey:          key,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd, groupAwardView(res)); err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d members failed", res.Failed, len(res.Members))
		}
		return nil
	})
}

func groupAwardView(res *command.AwardGroupBitsResult) map[string]any {
	members := make([]memberView, 0, len(res.Members))
	for _, m := range res.Members {
		v := memberView{UserID: m.UserID, Error: errString(m.Err)}
		if m.Result != nil {
			v.Amount = m.Result.Transaction.Amount
			v.Balance = m.Result.Balance
		}
		members = append(members, v)
	}
	return map[string]any{
		"group_id":  res.GroupID,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"members":   members,
	}
}

// ─── adjust-stats ───────────────────────────────────────────────────────────

var adjustStatsCmd = &cobra.Command{
	Use:   "adjust-stats",
	Short: "Change passive attributes and shields",
	Long: `Add deltas to multiplier, luck, discount and shields. Results are
clamped to their ranges. --cost debits the price first as item usage.`,
	RunE: runAdjustStats,
}

func runAdjustStats(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	c := command.AdjustStatsCommand{}
	c.UserID, _ = f.GetString("user")
	c.ClassroomID, _ = f.GetString("classroom")
	c.ActorID, _ = f.GetString("by")
	c.Reason, _ = f.GetString("reason")
	c.Multiplier, _ = f.GetFloat64("multiplier")
	c.Luck, _ = f.GetFloat64("luck")
	c.Discount, _ = f.GetFloat64("discount")
	c.Shields, _ = f.GetInt("shields")
	c.DiscountDuration, _ = f.GetDuration("discount-for")
	c.Cost, _ = f.GetInt64("cost")
	c.AwardStatXP, _ = f.GetBool("stat-xp")
	c.IdempotencyKey, _ = f.GetString("key")
	if f.Changed("set-discount") {
		v, _ := f.GetFloat64("set-discount")
		c.SetDiscount = &v
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := app.AdjustStats.Handle(ctx, c)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	})
}

// ─── consume-shield ─────────────────────────────────────────────────────────

var consumeShieldCmd = &cobra.Command{
	Use:   "consume-shield",
	Short: "Spend one shield to block an attack",
	RunE:  runConsumeShield,
}

func runConsumeShield(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	classroom, _ := f.GetString("classroom")
	attacker, _ := f.GetString("attacker")
	reason, _ := f.GetString("reason")

	return withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := app.ConsumeShield.Handle(ctx, command.ConsumeShieldCommand{
			UserID:      user,
			ClassroomID: classroom,
			ActorID:     attacker,
			Reason:      reason,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	})
}

// ─── group-changed ──────────────────────────────────────────────────────────

var groupChangedCmd = &cobra.Command{
	Use:   "group-changed",
	Short: "Notify members after a group multiplier edit",
	Long: `Drop cached multiplier aggregates for the group's classroom and tell
each approved member how their effective group multiplier moved.
Pass --previous when the edit already happened elsewhere, or --set to
store the new value here first.`,
	RunE: runGroupChanged,
}

func runGroupChanged(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	groupID, _ := f.GetString("group-id")
	previous, _ := f.GetFloat64("previous")
	by, _ := f.GetString("by")
	if !f.Changed("previous") && !f.Changed("set") {
		return errors.New("one of --previous or --set is required")
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		if f.Changed("set") {
			value, _ := f.GetFloat64("set")
			prev, err := app.SetGroupMultiplier(ctx, groupID, value)
			if err != nil {
				return err
			}
			previous = prev
		}
		res, err := app.GroupChanged.Handle(ctx, command.RecordGroupMultiplierChangeCommand{
			GroupID:            groupID,
			PreviousMultiplier: previous,
			ActorID:            by,
		})
		if err != nil {
			return err
		}

		failed := make(map[string]string, len(res.Failed))
		for id, e := range res.Failed {
			failed[id] = errString(e)
		}
		notified := append([]string(nil), res.Notified...)
		sort.Strings(notified)
		if err := printJSON(cmd, map[string]any{
			"group_id": res.GroupID,
			"notified": notified,
			"failed":   failed,
		}); err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d members were not notified", len(failed))
		}
		return nil
	})
}
