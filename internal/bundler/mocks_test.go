// internal/bundler/mocks_test.go
package bundler

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/rovshanmuradov/curve-bundler/internal/events"
	"github.com/rovshanmuradov/curve-bundler/internal/ledger"
	"github.com/rovshanmuradov/curve-bundler/internal/protocol"
	"github.com/stretchr/testify/mock"
)

type MockCurve struct {
	mock.Mock
}

func (m *MockCurve) Address() ledger.Address {
	return m.Called().Get(0).(ledger.Address)
}

func (m *MockCurve) Token() ledger.Address {
	return m.Called().Get(0).(ledger.Address)
}

func (m *MockCurve) VirtualReserves() (*uint256.Int, *uint256.Int) {
	args := m.Called()
	return args.Get(0).(*uint256.Int).Clone(), args.Get(1).(*uint256.Int).Clone()
}

func (m *MockCurve) K() *uint256.Int {
	return m.Called().Get(0).(*uint256.Int).Clone()
}

func (m *MockCurve) FeeConfig() (*uint256.Int, *uint256.Int) {
	args := m.Called()
	return args.Get(0).(*uint256.Int), args.Get(1).(*uint256.Int)
}

func (m *MockCurve) ApplyBuy(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	args := m.Called(amountIn, recipient)
	out, _ := args.Get(0).(*uint256.Int)
	return out, args.Error(1)
}

func (m *MockCurve) ApplySell(amountIn *uint256.Int, recipient ledger.Address) (*uint256.Int, error) {
	args := m.Called(amountIn, recipient)
	out, _ := args.Get(0).(*uint256.Int)
	return out, args.Error(1)
}

type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Address() ledger.Address {
	return m.Called().Get(0).(ledger.Address)
}

func (m *MockFactory) DeployFee() *uint256.Int {
	return m.Called().Get(0).(*uint256.Int).Clone()
}

func (m *MockFactory) CreateCurve(creator ledger.Address, name, symbol, tokenURI string) (protocol.Curve, error) {
	args := m.Called(creator, name, symbol, tokenURI)
	c, _ := args.Get(0).(protocol.Curve)
	return c, args.Error(1)
}

func (m *MockFactory) CurveOf(token ledger.Address) (protocol.Curve, error) {
	args := m.Called(token)
	c, _ := args.Get(0).(protocol.Curve)
	return c, args.Error(1)
}

type MockVault struct {
	mock.Mock
}

func (m *MockVault) Address() ledger.Address {
	return m.Called().Get(0).(ledger.Address)
}

func (m *MockVault) Deposit(from ledger.Address, amount *uint256.Int) error {
	return m.Called(from, amount).Error(0)
}

// staticResolver resolves every address to the same factory.
type staticResolver struct {
	factory protocol.Factory
}

func (r staticResolver) Get(ledger.Address) (protocol.Factory, error) {
	return r.factory, nil
}

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) ofType(typ events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}
