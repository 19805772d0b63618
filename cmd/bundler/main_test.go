package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/curve-bundler/internal/export"
	"github.com/rovshanmuradov/curve-bundler/internal/storage/models"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BUNDLER_LOG_FILE", filepath.Join(t.TempDir(), "bundler.log"))

	s := &session{}
	defer s.close()

	var out bytes.Buffer
	root := rootCommand(s)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCreateFlags(t *testing.T) {
	wallet := solana.NewWallet()
	creator := solana.NewWallet().PublicKey()

	c := createAndBuyCommand(&session{})
	require.NoError(t, c.Flags().Parse([]string{
		"--private-key", wallet.PrivateKey.String(),
		"--creator", creator.String(),
		"--name", "Test Token",
		"--symbol", "TST",
		"--amount-in", "1.5",
		"--amount-in-decimals", "9",
		"--fee", "0.05",
	}))

	cfg, err := parseCreateFlags(c.Flags())
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), cfg.Caller())
	assert.Equal(t, creator, cfg.Creator)
	assert.Equal(t, units.MustParse("1.5", 9), cfg.AmountIn)
	assert.Equal(t, units.MustParse("0.05", 18), cfg.Fee)
	assert.False(t, cfg.DryRun)
}

func TestParseCreateFlags_PrivateKeyFromEnv(t *testing.T) {
	wallet := solana.NewWallet()
	t.Setenv(privateKeyEnv, wallet.PrivateKey.String())

	c := createAndBuyCommand(&session{})
	require.NoError(t, c.Flags().Parse([]string{"--name", "T", "--symbol", "T", "--amount-in", "1"}))

	cfg, err := parseCreateFlags(c.Flags())
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), cfg.Caller())
	assert.Equal(t, wallet.PublicKey(), cfg.Creator, "creator defaults to the caller")
	assert.True(t, cfg.Fee.IsZero())
}

func TestParseCreateFlags_Invalid(t *testing.T) {
	key := solana.NewWallet().PrivateKey.String()

	tests := []struct {
		name string
		args []string
	}{
		{"missing key", []string{"--name", "T", "--symbol", "T", "--amount-in", "1"}},
		{"bad key", []string{"--private-key", "not-a-key", "--name", "T", "--symbol", "T", "--amount-in", "1"}},
		{"missing name", []string{"--private-key", key, "--symbol", "T", "--amount-in", "1"}},
		{"missing amount", []string{"--private-key", key, "--name", "T", "--symbol", "T"}},
		{"zero amount", []string{"--private-key", key, "--name", "T", "--symbol", "T", "--amount-in", "0"}},
		{"negative fee", []string{"--private-key", key, "--name", "T", "--symbol", "T", "--amount-in", "1", "--fee", "-1"}},
		{"too precise", []string{"--private-key", key, "--name", "T", "--symbol", "T", "--amount-in", "1.5", "--amount-in-decimals", "0"}},
		{"bad creator", []string{"--private-key", key, "--creator", "xyz", "--name", "T", "--symbol", "T", "--amount-in", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(privateKeyEnv, "")
			c := createAndBuyCommand(&session{})
			require.NoError(t, c.Flags().Parse(tt.args))
			_, err := parseCreateFlags(c.Flags())
			assert.Error(t, err)
		})
	}
}

func TestCreateAndBuyCommand(t *testing.T) {
	wallet := solana.NewWallet()

	out, err := execute(t, "create-and-buy",
		"--private-key", wallet.PrivateKey.String(),
		"--name", "Test Token",
		"--symbol", "TST",
		"--token-uri", "ipfs://test",
		"--amount-in", "1",
		"--fee", "0.05")
	require.NoError(t, err)

	assert.Contains(t, out, "Curve created")
	assert.Contains(t, out, "Amount out")
	assert.Contains(t, out, "Virtual native")
	// 30 virtual + 1 bought
	assert.Contains(t, out, "31")
}

func TestCreateAndBuyCommand_DryRun(t *testing.T) {
	out, err := execute(t, "create-and-buy",
		"--private-key", solana.NewWallet().PrivateKey.String(),
		"--name", "Test Token",
		"--symbol", "TST",
		"--amount-in", "1",
		"--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Curve creation preview")
}

func TestRunCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: cli
wallets:
  - name: creator
  - name: trader
steps:
  - operation: create_and_buy
    wallet: creator
    ref: tst
    token_name: Test Token
    symbol: TST
    amount_in: "1.0"
    fee: "0.05"
  - operation: buy
    wallet: trader
    token: tst
    amount_in: "0.5"
    fee: "0.01"
  - operation: buy
    wallet: trader
    token: tst
    amount_in: "0"
    expect_error: ERR_ZERO_AMOUNT
`), 0o644))

	out, err := execute(t, "run", "--scenario", path)
	require.NoError(t, err)
	assert.Contains(t, out, `scenario "cli" completed, 3 steps`)
	assert.Contains(t, out, "fee vault")
	assert.Contains(t, out, "ok (")
}

func TestRunCommand_RequiresScenario(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "--scenario is required")
}

func TestExportCommand_RequiresPostgres(t *testing.T) {
	t.Setenv("BUNDLER_POSTGRES_URL", "")
	_, err := execute(t, "export")
	assert.ErrorContains(t, err, "postgres_url")
}

func TestParseExportFlags(t *testing.T) {
	now := time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)

	c := exportCommand(&session{})
	require.NoError(t, c.Flags().Parse([]string{
		"--format", "json",
		"--side", "sell",
		"--since", "2h",
		"--daily", "2024-03-16",
	}))

	cfg, err := parseExportFlags(c.Flags(), "exports", now)
	require.NoError(t, err)
	assert.Equal(t, export.FormatJSON, cfg.Options.Format)
	assert.Equal(t, models.SideSell, cfg.Options.SideFilter)
	assert.Equal(t, now.Add(-2*time.Hour), cfg.Options.StartTime)
	assert.Equal(t, "exports", cfg.Options.OutputDir)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), cfg.Daily)
}

func TestParseExportFlags_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"--format", "xml"},
		{"--side", "hold"},
		{"--daily", "17/03/2024"},
	} {
		c := exportCommand(&session{})
		require.NoError(t, c.Flags().Parse(args))
		_, err := parseExportFlags(c.Flags(), "exports", time.Now())
		assert.Error(t, err, "args %v", args)
	}
}
