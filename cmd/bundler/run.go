package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/app"
	"github.com/rovshanmuradov/curve-bundler/internal/curve"
	"github.com/rovshanmuradov/curve-bundler/internal/task"
	"github.com/rovshanmuradov/curve-bundler/internal/ui/style"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const ScenarioKey = "scenario"

func runCommand(s *session) *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a YAML scenario of settlements against one in-process ledger",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			path, err := c.Flags().GetString(ScenarioKey)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("--%s is required", ScenarioKey)
			}

			sc, err := task.NewManager(s.logger).LoadScenario(path)
			if err != nil {
				return err
			}
			return s.withApp(c.Context(), func(ctx context.Context, a *app.App) error {
				return runScenario(ctx, c.OutOrStdout(), s, a, sc)
			})
		},
	}
	c.Flags().String(ScenarioKey, "", "Path to the scenario YAML file (required)")
	return c
}

func runScenario(ctx context.Context, out io.Writer, s *session, a *app.App, sc *task.Scenario) error {
	balance, err := a.Config.InitialBalanceAmount()
	if err != nil {
		return err
	}

	runner := task.NewRunner(a.Bundler, a.Ledger, balance, s.logger)
	report, runErr := runner.Run(ctx, sc)
	if report != nil {
		printReport(out, a, sc, report)
	}
	if runErr != nil {
		return runErr
	}

	s.logger.Info("Scenario completed",
		zap.String("scenario", sc.Name),
		zap.Int("steps", len(report.Steps)))
	fmt.Fprintln(out, style.Success(fmt.Sprintf("scenario %q completed, %d steps", sc.Name, len(report.Steps))))
	return nil
}

func printReport(out io.Writer, a *app.App, sc *task.Scenario, report *task.Report) {
	headers := []string{"#", "Step", "Operation", "Wallet", "Token", "In", "Out", "Status", "Took"}
	rows := make([][]string, 0, len(report.Steps))
	for _, r := range report.Steps {
		status := "ok"
		if r.Err != nil {
			status = "failed: " + r.Err.Error()
			if want := sc.Steps[r.Index].ExpectError; want != "" && strings.Contains(r.Err.Error(), want) {
				status = "ok (" + r.Err.Error() + ")"
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Index + 1),
			r.Name,
			string(r.Operation),
			style.ShortAddress(r.Wallet.String()),
			tokenCell(r),
			amountCell(r.AmountIn),
			amountCell(r.AmountOut),
			status,
			r.Duration.String(),
		})
	}
	fmt.Fprintln(out, style.Table(headers, rows))

	names := make([]string, 0, len(report.Wallets))
	for name := range report.Wallets {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]style.Field, 0, len(names)+1)
	for _, name := range names {
		fields = append(fields, style.Field{
			Label: name,
			Value: units.Format(a.Ledger.NativeBalance(report.Wallets[name].PublicKey), curve.Decimals),
		})
	}
	fields = append(fields, style.Field{
		Label: "fee vault",
		Value: units.Format(a.Ledger.NativeBalance(a.Vault.Address()), curve.Decimals),
	})
	fmt.Fprintln(out, style.Panel("Native balances", fields))
}

func tokenCell(r task.StepResult) string {
	if r.Token.IsZero() {
		return "-"
	}
	return style.ShortAddress(r.Token.String())
}

func amountCell(v *uint256.Int) string {
	if v == nil {
		return "-"
	}
	return units.Format(v, curve.Decimals)
}
