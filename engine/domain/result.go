package domain

// Strategy names one retrieval method.
type Strategy string

const (
	StrategySemantic      Strategy = "semantic"
	StrategyKeyword       Strategy = "keyword"
	StrategyPreference    Strategy = "preference"
	StrategyPopularity    Strategy = "popularity"
	StrategyCollaborative Strategy = "collaborative"
	StrategyHybrid        Strategy = "hybrid"
	StrategyFallback      Strategy = "fallback"
)

// RetrievalResult is one candidate from a single strategy. Score is on the
// strategy's own scale.
type RetrievalResult struct {
	Shop     *Shop
	Score    float64
	Reasons  []string
	Strategy Strategy
}

// FusedResult is a candidate after merging every strategy's contribution.
type FusedResult struct {
	Shop     *Shop                `json:"shop"`
	Score    float64              `json:"score"`
	Scores   map[Strategy]float64 `json:"scores"`
	Reasons  []string             `json:"highlights"`
	Strategy Strategy             `json:"matchType"`
}

// Capability is the probed availability of an optional backend.
type Capability struct {
	Name      string `json:"name"`
	Backend   string `json:"backend,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Absent describes a backend that was never configured.
func Absent(name string) Capability {
	return Capability{Name: name, Reason: ErrConfigurationAbsent.Error()}
}
