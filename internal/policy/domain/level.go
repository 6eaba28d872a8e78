// Package domain defines the security level assessment: the environment signals a client reports
// and the coarse level derived from them.
package domain

// Level is a coarse trust level for a client environment.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Signal weights. Secure transport counts double.
const (
	WeightSecureTransport  = 2
	WeightCryptoAvailable  = 1
	WeightSecureContext    = 1
	WeightStorageAvailable = 1
)

// Level thresholds on the weighted score.
const (
	HighThreshold   = 4
	MediumThreshold = 2
)

// Environment holds the capability signals of a client environment.
type Environment struct {
	SecureTransport  bool `json:"secure_transport"`
	CryptoAvailable  bool `json:"crypto_available"`
	SecureContext    bool `json:"secure_context"`
	StorageAvailable bool `json:"storage_available"`
}

// Assessment is the weighted score of an Environment and its level.
type Assessment struct {
	Score int
	Level Level
}

// Assess scores env with the fixed weights.
func Assess(env Environment) Assessment {
	score := 0
	if env.SecureTransport {
		score += WeightSecureTransport
	}
	if env.CryptoAvailable {
		score += WeightCryptoAvailable
	}
	if env.SecureContext {
		score += WeightSecureContext
	}
	if env.StorageAvailable {
		score += WeightStorageAvailable
	}
	return Assessment{Score: score, Level: LevelForScore(score)}
}

// LevelForScore maps a weighted score to a level: at least 4 is high, at least 2 medium, else low.
func LevelForScore(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}
