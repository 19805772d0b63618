package task

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// OperationType names a scenario step.
type OperationType string

const (
	OperationCreateAndBuy OperationType = "create_and_buy"
	OperationBuy          OperationType = "buy"
	OperationSell         OperationType = "sell"
	OperationApprove      OperationType = "approve"
	OperationFund         OperationType = "fund"
)

// DefaultDeadline is used by buy and sell steps without an explicit deadline.
const DefaultDeadline = 5 * time.Minute

// AmountMax in an approve step grants an unlimited allowance.
const AmountMax = "max"

// Scenario is a YAML file of wallets and the steps executed against them.
type Scenario struct {
	Name    string         `yaml:"name"`
	Wallets []WalletConfig `yaml:"wallets"`
	Steps   []Step         `yaml:"steps"`
}

// WalletConfig declares a wallet. Without a private key a random one is
// generated. Balance overrides the runner's default funding.
type WalletConfig struct {
	Name       string `yaml:"name"`
	PrivateKey string `yaml:"private_key"`
	Balance    string `yaml:"balance"`
}

// Step is one operation. Wallet, creator and recipient fields take wallet
// names or base58 addresses; Token takes a ref of an earlier create_and_buy
// step or a base58 mint. Amounts are decimal strings with 18 decimals.
type Step struct {
	Name      string        `yaml:"name"`
	Operation OperationType `yaml:"operation"`
	Wallet    string        `yaml:"wallet"`

	// create_and_buy
	Ref       string `yaml:"ref"`
	Creator   string `yaml:"creator"`
	TokenName string `yaml:"token_name"`
	Symbol    string `yaml:"symbol"`
	TokenURI  string `yaml:"token_uri"`

	// trades
	Token         string        `yaml:"token"`
	AmountIn      string        `yaml:"amount_in"`
	Fee           string        `yaml:"fee"`
	Value         string        `yaml:"value"`
	Recipient     string        `yaml:"recipient"`
	Deadline      time.Duration `yaml:"deadline"`
	PercentToSell float64       `yaml:"percent_to_sell"`

	// approve and fund
	Spender string `yaml:"spender"`
	Amount  string `yaml:"amount"`

	// ExpectError marks a step that must fail with an error containing
	// this text, e.g. ERR_EXPIRED.
	ExpectError string `yaml:"expect_error"`
}

// Label names the step in logs and reports.
func (s Step) Label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d %s", index+1, s.Operation)
}

// Validate checks the step in isolation. References are resolved at run time.
func (s Step) Validate() error {
	if s.Wallet == "" {
		return fmt.Errorf("wallet is required")
	}

	switch s.Operation {
	case OperationCreateAndBuy:
		if s.TokenName == "" || s.Symbol == "" {
			return fmt.Errorf("token_name and symbol are required")
		}
		if s.AmountIn == "" {
			return fmt.Errorf("amount_in is required")
		}
	case OperationBuy:
		if s.Token == "" || s.AmountIn == "" {
			return fmt.Errorf("token and amount_in are required")
		}
	case OperationSell:
		if s.Token == "" {
			return fmt.Errorf("token is required")
		}
		if s.AmountIn == "" && (s.PercentToSell <= 0 || s.PercentToSell > 100) {
			return fmt.Errorf("amount_in or percent_to_sell in (0, 100] is required")
		}
	case OperationApprove:
		if s.Token == "" || s.Amount == "" {
			return fmt.Errorf("token and amount are required")
		}
	case OperationFund:
		if s.Amount == "" {
			return fmt.Errorf("amount is required")
		}
	default:
		return fmt.Errorf("unsupported operation: %q", s.Operation)
	}
	return nil
}

// Manager loads scenario definitions.
type Manager struct {
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("scenario")}
}

// LoadScenario reads and validates a scenario YAML file. Unlike a task list,
// a scenario is rejected as a whole when any step is invalid, since later
// steps may depend on it.
func (m *Manager) LoadScenario(path string) (*Scenario, error) {
	if filepath.IsAbs(path) {
		m.logger.Debug("Using absolute path for scenario file", zap.String("path", path))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return m.ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func (m *Manager) ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("no steps found in scenario")
	}

	names := make(map[string]struct{}, len(sc.Wallets))
	for _, w := range sc.Wallets {
		if w.Name == "" {
			return nil, fmt.Errorf("wallet without name")
		}
		if _, dup := names[w.Name]; dup {
			return nil, fmt.Errorf("duplicate wallet %q", w.Name)
		}
		names[w.Name] = struct{}{}
	}

	refs := make(map[string]struct{})
	for i, step := range sc.Steps {
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Label(i), err)
		}
		if step.Ref == "" {
			continue
		}
		if _, dup := refs[step.Ref]; dup {
			return nil, fmt.Errorf("step %s: duplicate ref %q", step.Label(i), step.Ref)
		}
		refs[step.Ref] = struct{}{}
	}

	m.logger.Info("Loaded scenario",
		zap.String("name", sc.Name),
		zap.Int("wallets", len(sc.Wallets)),
		zap.Int("steps", len(sc.Steps)))
	return &sc, nil
}
