package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/bundler"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/units"
	"go.uber.org/zap"
)

// ErrUnexpectedSuccess is returned for a step with expect_error that succeeded.
var ErrUnexpectedSuccess = errors.New("step succeeded but an error was expected")

// Settlement is the part of the bundler a scenario drives.
type Settlement interface {
	Address() ledger.Address
	Factory() (bundler.Factory, error)
	CreateAndBuy(p bundler.CreateAndBuyParams) (*bundler.CreateResult, error)
	Buy(p bundler.BuyParams) (*uint256.Int, error)
	Sell(p bundler.SellParams) (*uint256.Int, error)
}

// Accounts gives the runner direct access to balances for funding and
// approvals.
type Accounts interface {
	Fund(addr ledger.Address, amount *uint256.Int) error
	Approve(mint, owner, spender ledger.Address, amount *uint256.Int) error
	NativeBalance(addr ledger.Address) *uint256.Int
	TokenBalance(mint, owner ledger.Address) *uint256.Int
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Index     int
	Name      string
	Operation OperationType
	Wallet    ledger.Address
	Token     ledger.Address
	Curve     ledger.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Err       error
	Duration  time.Duration
}

// Report collects the results of a scenario run.
type Report struct {
	Scenario string
	Wallets  map[string]*Wallet
	Tokens   map[string]ledger.Address
	Steps    []StepResult
}

// Runner executes scenario steps serially against one bundler.
type Runner struct {
	settlement     Settlement
	accounts       Accounts
	defaultBalance *uint256.Int
	clock          func() time.Time
	logger         *zap.Logger
}

// NewRunner creates a runner. Wallets without an explicit balance are funded
// with defaultBalance; nil means no funding.
func NewRunner(s Settlement, a Accounts, defaultBalance *uint256.Int, logger *zap.Logger) *Runner {
	return &Runner{
		settlement:     s,
		accounts:       a,
		defaultBalance: defaultBalance,
		clock:          time.Now,
		logger:         logger.Named("runner"),
	}
}

// run holds the state of a single scenario execution.
type run struct {
	*Runner
	report *Report
}

// Run funds the scenario wallets and executes every step in order. It
// stops at the first step that fails unexpectedly and returns the report
// collected so far along with the error.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	st := &run{
		Runner: r,
		report: &Report{
			Scenario: sc.Name,
			Wallets:  make(map[string]*Wallet, len(sc.Wallets)),
			Tokens:   make(map[string]ledger.Address),
		},
	}

	if err := st.setupWallets(sc.Wallets); err != nil {
		return st.report, err
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return st.report, fmt.Errorf("scenario interrupted before step %s: %w", step.Label(i), err)
		}

		res := st.execute(i, step)
		st.report.Steps = append(st.report.Steps, res)

		if err := expectation(step, res.Err); err != nil {
			r.logger.Error("Scenario step failed",
				zap.String("step", res.Name),
				zap.String("operation", string(step.Operation)),
				zap.Error(err))
			return st.report, fmt.Errorf("step %s: %w", res.Name, err)
		}

		r.logger.Info("Scenario step done",
			zap.String("step", res.Name),
			zap.String("operation", string(step.Operation)),
			zap.Bool("expected_error", step.ExpectError != ""),
			zap.Duration("duration", res.Duration))
	}

	return st.report, nil
}

func expectation(step Step, err error) error {
	if step.ExpectError == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedSuccess, step.ExpectError)
	}
	if !strings.Contains(err.Error(), step.ExpectError) {
		return fmt.Errorf("expected error %q, got: %w", step.ExpectError, err)
	}
	return nil
}

func (st *run) setupWallets(configs []WalletConfig) error {
	for _, wc := range configs {
		var (
			w   *Wallet
			err error
		)
		if wc.PrivateKey != "" {
			if w, err = NewWallet(wc.Name, wc.PrivateKey); err != nil {
				return err
			}
		} else {
			w = GenerateWallet(wc.Name)
		}
		st.report.Wallets[wc.Name] = w

		balance := st.defaultBalance
		if wc.Balance != "" {
			if balance, err = units.Parse(wc.Balance, units.DefaultDecimals); err != nil {
				return fmt.Errorf("wallet %s: invalid balance: %w", wc.Name, err)
			}
		}
		if balance == nil || balance.IsZero() {
			continue
		}
		if err := st.accounts.Fund(w.PublicKey, balance); err != nil {
			return fmt.Errorf("wallet %s: %w", wc.Name, err)
		}
		st.logger.Debug("Wallet funded",
			zap.String("wallet", wc.Name),
			zap.String("address", w.String()),
			zap.String("balance", units.Format(balance, units.DefaultDecimals)))
	}
	return nil
}

func (st *run) execute(index int, step Step) StepResult {
	res := StepResult{Index: index, Name: step.Label(index), Operation: step.Operation}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	caller, err := st.address(step.Wallet)
	if err != nil {
		res.Err = err
		return res
	}
	res.Wallet = caller

	switch step.Operation {
	case OperationCreateAndBuy:
		res.Err = st.createAndBuy(step, caller, &res)
	case OperationBuy:
		res.Err = st.buy(step, caller, &res)
	case OperationSell:
		res.Err = st.sell(step, caller, &res)
	case OperationApprove:
		res.Err = st.approve(step, caller, &res)
	case OperationFund:
		res.Err = st.fund(step, caller, &res)
	default:
		res.Err = fmt.Errorf("unsupported operation: %q", step.Operation)
	}
	return res
}

func (st *run) createAndBuy(step Step, caller ledger.Address, res *StepResult) error {
	creator := caller
	if step.Creator != "" {
		var err error
		if creator, err = st.address(step.Creator); err != nil {
			return err
		}
	}
	amountIn, err := parseAmount("amount_in", step.AmountIn)
	if err != nil {
		return err
	}
	fee, err := parseOptional("fee", step.Fee)
	if err != nil {
		return err
	}

	value, err := parseOptional("value", step.Value)
	if err != nil {
		return err
	}
	if step.Value == "" {
		factory, err := st.settlement.Factory()
		if err != nil {
			return err
		}
		value = new(uint256.Int).Add(amountIn, fee)
		value.Add(value, factory.DeployFee())
	}

	out, err := st.settlement.CreateAndBuy(bundler.CreateAndBuyParams{
		Caller:   caller,
		Value:    value,
		Creator:  creator,
		Name:     step.TokenName,
		Symbol:   step.Symbol,
		TokenURI: step.TokenURI,
		AmountIn: amountIn,
		Fee:      fee,
	})
	res.AmountIn = amountIn
	if err != nil {
		return err
	}

	res.Token = out.Token
	res.Curve = out.Curve
	res.AmountOut = out.AmountOut
	if step.Ref != "" {
		st.report.Tokens[step.Ref] = out.Token
	}
	return nil
}

func (st *run) buy(step Step, caller ledger.Address, res *StepResult) error {
	token, err := st.token(step.Token)
	if err != nil {
		return err
	}
	recipient, err := st.recipient(step, caller)
	if err != nil {
		return err
	}
	amountIn, err := parseAmount("amount_in", step.AmountIn)
	if err != nil {
		return err
	}
	fee, err := parseOptional("fee", step.Fee)
	if err != nil {
		return err
	}
	value := new(uint256.Int).Add(amountIn, fee)
	if step.Value != "" {
		if value, err = parseAmount("value", step.Value); err != nil {
			return err
		}
	}

	res.Token, res.AmountIn = token, amountIn
	out, err := st.settlement.Buy(bundler.BuyParams{
		Caller:    caller,
		Value:     value,
		Token:     token,
		AmountIn:  amountIn,
		Fee:       fee,
		Recipient: recipient,
		Deadline:  st.deadline(step),
	})
	if err != nil {
		return err
	}
	res.AmountOut = out
	return nil
}

func (st *run) sell(step Step, caller ledger.Address, res *StepResult) error {
	token, err := st.token(step.Token)
	if err != nil {
		return err
	}
	recipient, err := st.recipient(step, caller)
	if err != nil {
		return err
	}

	var amountIn *uint256.Int
	if step.AmountIn != "" {
		if amountIn, err = parseAmount("amount_in", step.AmountIn); err != nil {
			return err
		}
	} else {
		amountIn = percentOf(st.accounts.TokenBalance(token, caller), step.PercentToSell)
	}
	value, err := parseOptional("value", step.Value)
	if err != nil {
		return err
	}

	res.Token, res.AmountIn = token, amountIn
	out, err := st.settlement.Sell(bundler.SellParams{
		Caller:    caller,
		Value:     value,
		Token:     token,
		AmountIn:  amountIn,
		Recipient: recipient,
		Deadline:  st.deadline(step),
	})
	if err != nil {
		return err
	}
	res.AmountOut = out
	return nil
}

func (st *run) approve(step Step, caller ledger.Address, res *StepResult) error {
	token, err := st.token(step.Token)
	if err != nil {
		return err
	}
	spender := st.settlement.Address()
	if step.Spender != "" {
		if spender, err = st.address(step.Spender); err != nil {
			return err
		}
	}

	var amount *uint256.Int
	if step.Amount == AmountMax {
		amount = new(uint256.Int).SetAllOne()
	} else if amount, err = parseAmount("amount", step.Amount); err != nil {
		return err
	}

	res.Token, res.AmountIn = token, amount
	return st.accounts.Approve(token, caller, spender, amount)
}

func (st *run) fund(step Step, caller ledger.Address, res *StepResult) error {
	amount, err := parseAmount("amount", step.Amount)
	if err != nil {
		return err
	}
	res.AmountIn = amount
	return st.accounts.Fund(caller, amount)
}

func (st *run) deadline(step Step) time.Time {
	if step.Deadline == 0 {
		return st.clock().Add(DefaultDeadline)
	}
	return st.clock().Add(step.Deadline)
}

func (st *run) recipient(step Step, caller ledger.Address) (ledger.Address, error) {
	if step.Recipient == "" {
		return caller, nil
	}
	return st.address(step.Recipient)
}

// address resolves a wallet name or a base58 address.
func (st *run) address(nameOrAddr string) (ledger.Address, error) {
	if w, ok := st.report.Wallets[nameOrAddr]; ok {
		return w.PublicKey, nil
	}
	addr, err := solana.PublicKeyFromBase58(nameOrAddr)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("unknown wallet %q", nameOrAddr)
	}
	return addr, nil
}

// token resolves a ref of an earlier create_and_buy step or a base58 mint.
func (st *run) token(refOrMint string) (ledger.Address, error) {
	if mint, ok := st.report.Tokens[refOrMint]; ok {
		return mint, nil
	}
	mint, err := solana.PublicKeyFromBase58(refOrMint)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("unknown token %q", refOrMint)
	}
	return mint, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := units.Parse(s, units.DefaultDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return v, nil
}

func parseOptional(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, s)
}

// percentOf returns pct percent of balance, rounded down to whole basis
// points.
func percentOf(balance *uint256.Int, pct float64) *uint256.Int {
	bps := uint64(math.Round(pct * 100))
	out, _ := new(uint256.Int).MulDivOverflow(balance, uint256.NewInt(bps), uint256.NewInt(10_000))
	return out
}
