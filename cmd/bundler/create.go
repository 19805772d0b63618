package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/app"
	"github.com/rovshanmuradov/curve-bundler/internal/bundler"
	"github.com/rovshanmuradov/curve-bundler/internal/config"
	"github.com/rovshanmuradov/curve-bundler/internal/curve"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/ui/style"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	PrivateKeyKey       = "private-key"
	CreatorKey          = "creator"
	NameKey             = "name"
	SymbolKey           = "symbol"
	TokenURIKey         = "token-uri"
	AmountInKey         = "amount-in"
	FeeKey              = "fee"
	AmountInDecimalsKey = "amount-in-decimals"
	FeeDecimalsKey      = "fee-decimals"
	DryRunKey           = "dry-run"

	privateKeyEnv = config.EnvPrefix + "_PRIVATE_KEY"
)

func createAndBuyCommand(s *session) *cobra.Command {
	c := &cobra.Command{
		Use:   "create-and-buy",
		Short: "Creates a bonding curve and buys into it in one settlement",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := parseCreateFlags(c.Flags())
			if err != nil {
				return err
			}
			return s.withApp(c.Context(), func(ctx context.Context, a *app.App) error {
				return createAndBuy(ctx, c, s, a, cfg)
			})
		},
	}
	addCreateFlags(c.Flags())
	return c
}

func addCreateFlags(flags *pflag.FlagSet) {
	flags.String(PrivateKeyKey, "", "Base58 private key of the caller (falls back to "+privateKeyEnv+")")
	flags.String(CreatorKey, "", "Address receiving the bought tokens (defaults to the caller)")
	flags.String(NameKey, "", "Token name (required)")
	flags.String(SymbolKey, "", "Token symbol (required)")
	flags.String(TokenURIKey, "", "Token metadata URI")
	flags.String(AmountInKey, "", "Native amount spent on the initial buy (required)")
	flags.String(FeeKey, "0", "Buy fee sent to the fee vault")
	flags.Int32(AmountInDecimalsKey, curve.Decimals, "Decimals --amount-in is scaled by")
	flags.Int32(FeeDecimalsKey, curve.Decimals, "Decimals --fee is scaled by")
	flags.Bool(DryRunKey, false, "Preview the settlement without committing it")
}

type createConfig struct {
	PrivateKey solana.PrivateKey
	Creator    ledger.Address
	Name       string
	Symbol     string
	TokenURI   string
	AmountIn   *uint256.Int
	Fee        *uint256.Int
	DryRun     bool
}

func (c *createConfig) Caller() ledger.Address {
	return c.PrivateKey.PublicKey()
}

func parseCreateFlags(flags *pflag.FlagSet) (*createConfig, error) {
	cfg := &createConfig{}

	keyStr, err := flags.GetString(PrivateKeyKey)
	if err != nil {
		return nil, err
	}
	if keyStr == "" {
		keyStr = os.Getenv(privateKeyEnv)
	}
	if keyStr == "" {
		return nil, fmt.Errorf("--%s or %s is required", PrivateKeyKey, privateKeyEnv)
	}
	cfg.PrivateKey, err = solana.PrivateKeyFromBase58(keyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	creatorStr, err := flags.GetString(CreatorKey)
	if err != nil {
		return nil, err
	}
	cfg.Creator = cfg.Caller()
	if creatorStr != "" {
		cfg.Creator, err = solana.PublicKeyFromBase58(creatorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", CreatorKey, err)
		}
	}

	if cfg.Name, err = flags.GetString(NameKey); err != nil {
		return nil, err
	}
	if cfg.Symbol, err = flags.GetString(SymbolKey); err != nil {
		return nil, err
	}
	if cfg.Name == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("--%s and --%s are required", NameKey, SymbolKey)
	}
	if cfg.TokenURI, err = flags.GetString(TokenURIKey); err != nil {
		return nil, err
	}

	cfg.AmountIn, err = parseScaled(flags, AmountInKey, AmountInDecimalsKey)
	if err != nil {
		return nil, err
	}
	if cfg.AmountIn.IsZero() {
		return nil, fmt.Errorf("--%s must be positive", AmountInKey)
	}
	cfg.Fee, err = parseScaled(flags, FeeKey, FeeDecimalsKey)
	if err != nil {
		return nil, err
	}

	if cfg.DryRun, err = flags.GetBool(DryRunKey); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseScaled reads a decimal amount flag and scales it by the decimals flag.
func parseScaled(flags *pflag.FlagSet, amountKey, decimalsKey string) (*uint256.Int, error) {
	raw, err := flags.GetString(amountKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("--%s is required", amountKey)
	}
	decimals, err := flags.GetInt32(decimalsKey)
	if err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > 77 {
		return nil, fmt.Errorf("--%s must be between 0 and 77", decimalsKey)
	}
	v, err := units.Parse(raw, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", amountKey, err)
	}
	return v, nil
}

func createAndBuy(ctx context.Context, c *cobra.Command, s *session, a *app.App, cfg *createConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	caller := cfg.Caller()
	log := s.log.WithWallet(caller.String())
	end := s.log.TrackPerformance(bundler.OpCreateAndBuy)
	defer end()

	if err := a.Fund(caller); err != nil {
		return fmt.Errorf("fund caller: %w", err)
	}

	value := new(uint256.Int).Add(cfg.AmountIn, cfg.Fee)
	value.Add(value, a.Factory.DeployFee())

	params := bundler.CreateAndBuyParams{
		Caller:   caller,
		Value:    value,
		Creator:  cfg.Creator,
		Name:     cfg.Name,
		Symbol:   cfg.Symbol,
		TokenURI: cfg.TokenURI,
		AmountIn: cfg.AmountIn,
		Fee:      cfg.Fee,
	}

	var (
		res *bundler.CreateResult
		err error
	)
	title := "Curve created"
	if cfg.DryRun {
		title = "Curve creation preview"
		res, err = a.Bundler.PreviewCreateAndBuy(params)
	} else {
		res, err = a.Bundler.CreateAndBuy(params)
	}
	if err != nil {
		return err
	}

	log.Info("Create and buy settled",
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("curve", res.Curve.String()),
		zap.String("token", res.Token.String()),
		zap.String("amount_out", res.AmountOut.Dec()))

	fmt.Fprintln(c.OutOrStdout(), style.Panel(title, []style.Field{
		{Label: "Curve", Value: res.Curve.String()},
		{Label: "Token", Value: res.Token.String()},
		{Label: "Creator", Value: cfg.Creator.String()},
		{Label: "Virtual native", Value: units.Format(res.VirtualNative, curve.Decimals)},
		{Label: "Virtual token", Value: units.Format(res.VirtualToken, curve.Decimals)},
		{Label: "Amount out", Value: units.Format(res.AmountOut, curve.Decimals)},
		{Label: "Fee vault", Value: units.Format(a.Ledger.NativeBalance(a.Vault.Address()), curve.Decimals)},
	}))
	return nil
}
