/*

This file contains the opportunity types: the normalized yield record that flows through filtering,
scoring and allocation.

*/

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInput is returned by the core operations when an argument is out of its domain.
var ErrInvalidInput = errors.New("invalid input")

// Category classifies the yield mechanism of an opportunity.
type Category string

const (
	CategoryLending   Category = "lending"
	CategoryStableLP  Category = "stable_lp"
	CategoryLPPool    Category = "lp_pool"
	CategoryYieldFarm Category = "yield_farm"
	CategoryStaking   Category = "staking"
	CategoryOther     Category = "other"
)

// OpportunityKey identifies an opportunity. It is the key of an Allocation.
type OpportunityKey struct {
	Protocol string `json:"protocol"`
	Chain    string `json:"chain"`
}

func (k OpportunityKey) String() string {
	return k.Protocol + "@" + k.Chain
}

// Less orders keys lexicographically by protocol, then chain.
func (k OpportunityKey) Less(other OpportunityKey) bool {
	if k.Protocol != other.Protocol {
		return k.Protocol < other.Protocol
	}
	return k.Chain < other.Chain
}

// MarshalText lets OpportunityKey be used as a JSON object key.
func (k OpportunityKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OpportunityKey) UnmarshalText(text []byte) error {
	protocol, chain, ok := strings.Cut(string(text), "@")
	if !ok || protocol == "" || chain == "" {
		return fmt.Errorf("malformed opportunity key %q", string(text))
	}
	k.Protocol = protocol
	k.Chain = chain
	return nil
}

// Opportunity is a normalized USDC yield record.
// APY fields are percentages (5.0 means 5%); money fields are USD.
type Opportunity struct {
	Protocol      string   `json:"protocol"`
	Chain         string   `json:"chain"`
	APY           float64  `json:"apy"`
	APYBase       float64  `json:"apy_base"`
	APYReward     float64  `json:"apy_reward"`
	TVLUSD        float64  `json:"tvl_usd"`
	USDCLiquidity float64  `json:"usdc_liquidity"`
	RiskScore     float64  `json:"risk_score"` // upstream hint in [0,1], not used by the scorer
	Category      Category `json:"category"`

	// MaxInvestable caps how much can be placed in this opportunity. Zero means no cap.
	MaxInvestable float64 `json:"max_investable,omitempty"`

	Source    string `json:"source,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

func (o Opportunity) Key() OpportunityKey {
	return OpportunityKey{Protocol: o.Protocol, Chain: o.Chain}
}

// RiskBreakdown holds the four risk components, each in [0,1].
type RiskBreakdown struct {
	Protocol      float64 `json:"protocol"`
	Liquidity     float64 `json:"liquidity"`
	Market        float64 `json:"market"`
	Concentration float64 `json:"concentration"`
}

// ScoredOpportunity is an Opportunity annotated by the risk scorer.
type ScoredOpportunity struct {
	Opportunity
	Risk               RiskBreakdown `json:"risk"`
	CompositeRisk      float64       `json:"composite_risk"`
	RiskAdjustedReturn float64       `json:"risk_adjusted_return"`
}
