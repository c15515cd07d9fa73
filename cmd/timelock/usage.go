package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/johnivansn/timelock/internal/config"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/johnivansn/timelock/internal/usage"
	"github.com/spf13/cobra"
)

var (
	usageDate    string
	resetCleanup bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded usage against quotas",
	RunE:  runUsage,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run the daily usage reset now",
	Long: `Zero today's usage counters, clear blocked flags and purge records older
than the retention window. With --cleanup only the purge runs.`,
	RunE: runReset,
}

func init() {
	usageCmd.Flags().StringVar(&usageDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	resetCmd.Flags().BoolVar(&resetCleanup, "cleanup", false, "Only purge expired and orphaned records")
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(resetCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	date := usageDate
	if date == "" {
		date = period.DayKey(period.RealClock{}.Now())
	}
	return printUsage(cmd.Context(), os.Stdout, store, date)
}

// printUsage writes a table of every restriction and its usage on date.
func printUsage(ctx context.Context, w io.Writer, store storage.Store, date string) error {
	restrictions, err := store.Restrictions().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list restrictions: %w", err)
	}
	records, err := store.Usage().ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}

	used := make(map[string]storage.DailyUsage, len(records))
	for _, rec := range records {
		used[rec.PackageName] = rec
	}
	sort.Slice(restrictions, func(i, j int) bool {
		return restrictions[i].PackageName < restrictions[j].PackageName
	})

	red := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)

	fmt.Fprintf(w, "Usage for %s\n\n", date)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tAPP\tUSED\tQUOTA\tSTATUS")

	for _, r := range restrictions {
		rec := used[r.PackageName]

		quota := "-"
		if r.IsWeekly() {
			quota = period.FormatMinutes(r.WeeklyQuotaMinutes) + "/week"
		} else if q := r.DailyQuotaMinutes; q > 0 {
			quota = period.FormatMinutes(q)
		}

		status := "ok"
		switch {
		case !r.Enabled:
			status = dim.Sprint("disabled")
		case rec.Blocked:
			status = red.Sprint("blocked")
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.PackageName, r.AppName, period.FormatMinutes(rec.UsedMinutes), quota, status)
	}
	return tw.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	logger := quietLogger()
	tracker, err := notify.NewTracker(notify.NewLogSink(logger), notify.Options{}, logger)
	if err != nil {
		return err
	}

	resets := usage.NewResetScheduler(store, tracker, period.RealClock{}, usage.ResetOptions{
		RetentionDays: cfg.Usage.RetentionDays,
		PurgeDays:     cfg.Usage.PurgeDays,
	}, logger)

	var report *usage.ResetReport
	if resetCleanup {
		report, err = resets.Cleanup(cmd.Context())
	} else {
		report, err = resets.Reset(cmd.Context())
	}
	if err != nil {
		return err
	}

	color.New(color.FgGreen, color.Bold).Printf("✅ Reset complete for %s\n", report.Date)
	fmt.Printf("   Records reset:       %d\n", report.RecordsReset)
	fmt.Printf("   Records purged:      %d\n", report.RecordsPurged)
	fmt.Printf("   Expired usage:       %d\n", report.ExpiredUsage)
	fmt.Printf("   Orphaned usage:      %d\n", report.OrphanedUsage)
	fmt.Printf("   Expired date blocks: %d\n", report.ExpiredDateBlocks)
	return nil
}
