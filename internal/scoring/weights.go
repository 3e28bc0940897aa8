package scoring

// Weights carries every tunable constant the scorer applies. The defaults
// are tuned policy, not derived values; operators may override them through
// configuration but the zero-ish defaults below are authoritative.
type Weights struct {
	// TrendTaskBase is the starting score for trend and task signals.
	// Both arrive pre-filtered by their sources, so they start optimistically.
	TrendTaskBase float64
	// RawTextBase is the starting score for raw-text scoring (posts),
	// which earn everything through keyword and engagement add-ons.
	RawTextBase float64

	// HighValueFirst is added for the first distinct high-value keyword
	// match; HighValueExtra for each additional distinct match, up to
	// HighValueCap in total.
	HighValueFirst float64
	HighValueExtra float64
	HighValueCap   float64

	// NegativePenalty is subtracted per distinct off-brand keyword match.
	NegativePenalty float64

	// Domain-specific boosts.
	PainPointBoost float64
	VisionBoost    float64
	JargonBoost    float64

	// Engagement boost saturates: min(EngagementCap, raw/EngagementDivisor).
	EngagementCap     float64
	EngagementDivisor float64

	HighValueKeywords []string
	NegativeKeywords  []string
	PainPointKeywords []string
	VisionKeywords    []string
	JargonKeywords    []string
}

// DefaultWeights returns the tuned scoring policy.
func DefaultWeights() Weights {
	return Weights{
		TrendTaskBase: 0.5,
		RawTextBase:   0,

		HighValueFirst: 0.25,
		HighValueExtra: 0.05,
		HighValueCap:   0.4,

		NegativePenalty: 0.3,

		PainPointBoost: 0.10,
		VisionBoost:    0.10,
		JargonBoost:    0.05,

		EngagementCap:     0.2,
		EngagementDivisor: 10000,

		HighValueKeywords: []string{
			"wallet", "wallets", "ux", "user experience", "onboarding",
			"fragmentation", "interoperability", "web3", "self-custody",
			"seed phrase", "account abstraction", "developer experience",
			"multichain", "cross-chain",
		},
		NegativeKeywords: []string{
			"typo", "readme", "chore", "cleanup", "refactor", "lint",
			"bump", "dependency", "ci fix", "giveaway", "airdrop farming",
		},
		PainPointKeywords: []string{
			"killing", "broken", "painful", "nightmare", "frustrating",
			"confusing", "impossible", "tired of", "fed up", "hate",
		},
		VisionKeywords: []string{
			"future", "imagine", "vision", "someday", "next generation",
			"what if", "could be", "will be",
		},
		JargonKeywords: []string{
			"rollup", "zk", "evm", "rpc", "bridging", "gas", "l2",
			"consensus", "finality", "mempool",
		},
	}
}
