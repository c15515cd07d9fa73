package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/johnivansn/timelock/internal/config"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/johnivansn/timelock/internal/policy/opa"
	"github.com/johnivansn/timelock/internal/usage"
	"github.com/spf13/cobra"
)

var (
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] PACKAGE",
	Short: "Check the block decision for a package",
	Long:  `Check whether TimeLock would block a package now, or at a given weekday and time, using stored usage and rules.`,
	Example: `  timelock -c config.yaml check com.example.game
  timelock check -day saturday -time 22:30 com.example.game`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	pkg := args[0]

	at := time.Now()
	if checkDay != "" || checkTime != "" {
		var err error
		at, err = parseCheckTime(at, checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := quietLogger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	// Stored usage only; the foreground journal lives in the daemon
	ledger := usage.NewLedger(usage.NewJournal(0), store.Usage(), logger)
	decisions, err := opa.NewEngine(cfg.Policy.RegoDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load decision policy: %w", err)
	}
	evaluator := policy.NewEvaluator(store, ledger, nil, logger)
	evaluator.SetCombiner(decisions)
	evaluator.SetClock(&period.TestClock{CurrentTime: at})

	ctx := cmd.Context()
	res := evaluator.Evaluate(ctx, pkg)
	info := evaluator.DateInfo(ctx, pkg)
	schedule, _ := evaluator.ScheduleSummary(ctx, pkg)
	expiry, _ := evaluator.ExpirySummary(ctx, pkg)

	printCheckResult(pkg, at, res, info, schedule, expiry)
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(pkg string, at time.Time, res policy.Result, info policy.DateInfo, schedule, expiry string) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	rule := strings.Repeat("━", 50)

	fmt.Println()
	cyan.Println(rule)
	cyan.Println("BLOCK DECISION CHECK")
	cyan.Println(rule)
	fmt.Println()

	fmt.Printf("Package:    %s\n", pkg)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	cyan.Print("Decision:   ")
	if !res.Blocked() {
		green.Println("ALLOW")
		fmt.Println("            → No restriction is active")
	} else {
		red.Println("BLOCK")
		msg := policy.Message(res, info)
		fmt.Printf("Reason:     %s\n", msg.Reason)
		if msg.Body != msg.Reason {
			fmt.Printf("Detail:     %s\n", msg.Body)
		}
		if msg.Footer != "" {
			fmt.Printf("Footer:     %s\n", msg.Footer)
		}
		if msg.Range != "" {
			fmt.Printf("Range:      %s\n", msg.Range)
		}
	}

	if schedule != "" {
		yellow.Printf("Schedule:   %s\n", schedule)
	}
	if expiry != "" {
		fmt.Printf("Quota:      %s\n", expiry)
	}

	fmt.Println()
	cyan.Println(rule)
	fmt.Println()
}

// parseCheckTime moves now to the next given weekday and sets the time of
// day. Either part may be empty to keep now's value.
func parseCheckTime(now time.Time, dayStr, timeStr string) (time.Time, error) {
	hour, minute := now.Hour(), now.Minute()
	if timeStr != "" {
		var err error
		hour, minute, err = config.ParseClock(timeStr)
		if err != nil {
			return time.Time{}, err
		}
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	daysUntil := int(targetDay - now.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	target := now.AddDate(0, 0, daysUntil)
	return time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, now.Location()), nil
}
