package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Genesis seeds the market at first boot: the token set, initial balances,
// order book and pool parameters, and the oracle feeder.
type Genesis struct {
	Tokens   []GenesisToken   `yaml:"tokens"`
	Balances []GenesisBalance `yaml:"balances"`
	Book     BookGenesis      `yaml:"book"`
	Pool     PoolGenesis      `yaml:"pool"`
	Oracle   OracleGenesis    `yaml:"oracle"`
}

// GenesisToken declares a token to register. Treasury, when set, receives the
// initial supply and acts as the token's minter.
type GenesisToken struct {
	Symbol        string `yaml:"symbol"`
	Decimals      uint8  `yaml:"decimals"`
	Treasury      string `yaml:"treasury"`
	InitialSupply string `yaml:"initial_supply"`
}

type GenesisBalance struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol"`
	Amount  string `yaml:"amount"`
}

// BookGenesis configures the order book's rate domain.
type BookGenesis struct {
	// RateTick is the quantum every rate must be a multiple of, 1e18-scaled.
	RateTick string `yaml:"rate_tick"`
	// MaxRate bounds accepted rates inclusively, 1e18-scaled.
	MaxRate string `yaml:"max_rate"`
}

// PoolGenesis configures the fixed-term pool.
type PoolGenesis struct {
	DebtToken          string `yaml:"debt_token"`
	CollateralToken    string `yaml:"collateral_token"`
	CollateralDecimals uint8  `yaml:"collateral_decimals"`
	Maturity           int64  `yaml:"maturity"`
	MaturityLabel      string `yaml:"maturity_label"`
	// LTV is the loan-to-value ratio, 1e18-scaled.
	LTV string `yaml:"ltv"`
}

// OracleGenesis wires the collateral price feed.
type OracleGenesis struct {
	Feeder string `yaml:"feeder"`
	// InitialPrice, when set, is posted at boot so health checks work before
	// the feeder's first update.
	InitialPrice string `yaml:"initial_price"`
	// MaxAgeSeconds bounds quote staleness. Zero disables the check.
	MaxAgeSeconds int64 `yaml:"max_age_seconds"`
}

// LoadGenesis reads and validates the genesis document.
func LoadGenesis(path string) (*Genesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: open %s: %w", path, err)
	}
	defer file.Close()

	gen := &Genesis{}
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(gen); err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	return gen, nil
}

// Validate checks the document for the mistakes that would otherwise surface
// as confusing engine errors at runtime.
func (g *Genesis) Validate() error {
	if len(g.Tokens) == 0 {
		return fmt.Errorf("genesis: at least one token required")
	}
	symbols := make(map[string]bool, len(g.Tokens))
	for i, tok := range g.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis: token %d has no symbol", i)
		}
		if symbols[symbol] {
			return fmt.Errorf("genesis: duplicate token %s", symbol)
		}
		symbols[symbol] = true
		if tok.InitialSupply != "" {
			if _, err := ParseAmount(tok.InitialSupply); err != nil {
				return fmt.Errorf("genesis: token %s initial supply: %w", symbol, err)
			}
			if strings.TrimSpace(tok.Treasury) == "" {
				return fmt.Errorf("genesis: token %s has initial supply but no treasury", symbol)
			}
		}
	}
	if !symbols[strings.ToUpper(strings.TrimSpace(g.Pool.DebtToken))] {
		return fmt.Errorf("genesis: pool debt token %q not declared", g.Pool.DebtToken)
	}
	if !symbols[strings.ToUpper(strings.TrimSpace(g.Pool.CollateralToken))] {
		return fmt.Errorf("genesis: pool collateral token %q not declared", g.Pool.CollateralToken)
	}
	if g.Pool.Maturity <= 0 {
		return fmt.Errorf("genesis: pool maturity must be a positive unix timestamp")
	}
	if strings.TrimSpace(g.Pool.MaturityLabel) == "" {
		return fmt.Errorf("genesis: pool maturity label required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"pool ltv", g.Pool.LTV},
		{"book rate tick", g.Book.RateTick},
		{"book max rate", g.Book.MaxRate},
	} {
		amount, err := ParseAmount(field.value)
		if err != nil {
			return fmt.Errorf("genesis: %s: %w", field.name, err)
		}
		if amount.Sign() <= 0 {
			return fmt.Errorf("genesis: %s must be positive", field.name)
		}
	}
	if g.Oracle.InitialPrice != "" {
		if _, err := ParseAmount(g.Oracle.InitialPrice); err != nil {
			return fmt.Errorf("genesis: oracle initial price: %w", err)
		}
	}
	return nil
}

// ParseAmount parses a decimal big integer from a genesis field.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("value is empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return amount, nil
}
