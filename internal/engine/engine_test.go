package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/token"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testPauser is a switchable registry pause flag.
type testPauser struct {
	mu     sync.Mutex
	paused bool
}

func (p *testPauser) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *testPauser) set(v bool) {
	p.mu.Lock()
	p.paused = v
	p.mu.Unlock()
}

type testEnv struct {
	market *Market
	bank   *token.Bank
	clock  *testClock
	pauser *testPauser

	registry  common.Address
	authority common.Address
	treasury  common.Address
	alice     common.Address
	bob       common.Address
	carol     common.Address
}

func addr(name string) common.Address {
	return common.BytesToAddress([]byte(name))
}

// usdc returns n whole quote tokens in native 6-decimal units.
func usdc(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000))
}

// wad returns n in 1e18 reserve scale.
func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), pow10(18))
}

// newTestEnv builds a 1000/1000 market quoted in a 6-decimal asset with the
// given fee rate, a cutoff 24h out, and three funded traders.
func newTestEnv(t *testing.T, feeBps uint64) *testEnv {
	t.Helper()

	env := &testEnv{
		bank:      token.NewBank("USDC", 6),
		clock:     newTestClock(),
		pauser:    &testPauser{},
		registry:  addr("registry"),
		authority: addr("authority"),
		treasury:  addr("treasury"),
		alice:     addr("alice"),
		bob:       addr("bob"),
		carol:     addr("carol"),
	}

	m, err := New(Config{
		MarketParams: domain.MarketParams{
			SongID:      "song-001",
			MarketID:    1,
			InitialRank: 17,
			Cutoff:      env.clock.Now().Add(24 * time.Hour),
			FeeBps:      feeBps,
			QuoteSymbol: "USDC",
			Registry:    env.registry,
			Authority:   env.authority,
			Treasury:    env.treasury,
		},
		InitialReserve: wad(1000),
	}, env.bank, env.pauser, WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.market = m

	for _, a := range []common.Address{env.alice, env.bob, env.carol} {
		env.bank.Mint(a, usdc(1_000_000))
	}
	return env
}

// product returns reserveA*reserveB.
func product(t *testing.T, m *Market) *uint256.Int {
	t.Helper()
	a, b := m.Reserves()
	p := new(uint256.Int)
	if _, over := p.MulOverflow(a, b); over {
		t.Fatal("reserve product overflow")
	}
	return p
}

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}
