package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and change log state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		a.monitor.CheckNow(ctx)

		st, err := a.facade.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the pending change log once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if !a.monitor.CheckNow(ctx) {
			return fmt.Errorf("server unreachable on all routes")
		}
		result, err := a.facade.Sync(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if result.Failed() > 0 {
			return fmt.Errorf("%d of %d changes rejected", result.Failed(), result.Synced+result.Failed())
		}
		return nil
	},
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List changes that exhausted their push attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.facade.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue dead-lettered changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.facade.RetryDeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d changes\n", n)
		return nil
	},
}

func init() {
	pushCmd.Flags().Duration("timeout", 2*time.Minute, "overall push timeout")
	rootCmd.AddCommand(statusCmd, pushCmd, deadLettersCmd, retryCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
