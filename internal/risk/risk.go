// ==============================
// File: internal/risk/risk.go
// ==============================

// Package risk contains the rug-pull screening heuristic. Evaluate is a pure
// function of the mint snapshot it is given: the same inputs always produce
// the same verdict, and inability to verify is treated as risk, never safety.
package risk

// Reason classifies why a candidate was rejected.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMintAuthorityPresent Reason = "mint_authority_present"
	ReasonZeroSupply           Reason = "zero_supply"
	ReasonWeirdMint            Reason = "weird_mint"
	ReasonConcentratedHolders  Reason = "concentrated_holders"
	ReasonCheckFailed          Reason = "check_failed"
)

// MintInfo is the token mint snapshot fed to the evaluator. Authority fields
// are empty when the authority has been revoked.
type MintInfo struct {
	MintAuthority   string
	FreezeAuthority string
	Supply          uint64
	Decimals        uint8
}

// Holder is one balance from the largest-accounts snapshot.
type Holder struct {
	Account string
	Amount  uint64
}

// Verdict is the outcome of the screening checks.
type Verdict struct {
	Safe   bool
	Reason Reason

	// TopHolderPct is only populated by the concentration check.
	TopHolderPct float64

	// Warnings record soft signals that do not reject the candidate.
	Warnings []string
}

// Config holds the evaluator thresholds.
type Config struct {
	// TopHolders is how many of the largest accounts to sum.
	TopHolders int
	// ConcentrationPct rejects when the top-N share of supply strictly
	// exceeds this percentage.
	ConcentrationPct float64
	// MaxDecimals rejects mints with absurd decimal counts.
	MaxDecimals uint8
}

// Evaluate applies the checks in a fixed order, short-circuiting on the first
// failure: mint authority, supply sanity, holder concentration. A present
// freeze authority is a warning, not a rejection.
func Evaluate(info MintInfo, holders []Holder, cfg Config) Verdict {
	if info.MintAuthority != "" {
		return Verdict{Safe: false, Reason: ReasonMintAuthorityPresent}
	}

	if info.Supply == 0 {
		return Verdict{Safe: false, Reason: ReasonZeroSupply}
	}
	if info.Decimals > cfg.MaxDecimals {
		return Verdict{Safe: false, Reason: ReasonWeirdMint}
	}

	topN := cfg.TopHolders
	if topN > len(holders) {
		topN = len(holders)
	}
	var topSum uint64
	for _, h := range holders[:topN] {
		topSum += h.Amount
	}
	topPct := float64(topSum) / float64(info.Supply) * 100
	if topPct > cfg.ConcentrationPct {
		return Verdict{
			Safe:         false,
			Reason:       ReasonConcentratedHolders,
			TopHolderPct: topPct,
		}
	}

	verdict := Verdict{Safe: true, TopHolderPct: topPct}
	if info.FreezeAuthority != "" {
		verdict.Warnings = append(verdict.Warnings, "freeze authority present")
	}
	return verdict
}

// Unverified is the fail-closed verdict used when the underlying data could
// not be fetched at all.
func Unverified() Verdict {
	return Verdict{Safe: false, Reason: ReasonCheckFailed}
}
