package domain

// ExamplePair shows one aligned value from each side of a candidate mapping.
type ExamplePair struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// MatchReason is a human readable explanation attached to a candidate.
type MatchReason struct {
	Title  string `json:"title" yaml:"title"`
	Detail string `json:"detail" yaml:"detail"`
}

// MappingCandidate is a proposed column correspondence produced by the matching service.
type MappingCandidate struct {
	ID           string        `json:"id" yaml:"id"`
	FromDataset  DatasetTag    `json:"fromDataset" yaml:"fromDataset"`
	ToDataset    DatasetTag    `json:"toDataset" yaml:"toDataset"`
	FromColumn   string        `json:"fromColumn" yaml:"fromColumn"`
	ToColumn     string        `json:"toColumn" yaml:"toColumn"`
	Confidence   float64       `json:"confidence" yaml:"confidence"`
	Reasons      []MatchReason `json:"reasons" yaml:"reasons"`
	ExamplePairs []ExamplePair `json:"examplePairs" yaml:"examplePairs"`
}

// MappingDecision is the user's verdict on a candidate.
type MappingDecision string

const (
	DecisionPending  MappingDecision = "pending"
	DecisionApproved MappingDecision = "approved"
	DecisionRejected MappingDecision = "rejected"
)

// Valid reports whether the decision is one of the three known states.
func (d MappingDecision) Valid() bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return true
	}
	return false
}

// ThresholdStats summarizes how candidates split around a confidence threshold.
type ThresholdStats struct {
	Threshold       float64 `json:"threshold"`
	AutoCount       int     `json:"autoCount"`
	ReviewCount     int     `json:"reviewCount"`
	Total           int     `json:"total"`
	AutoPct         int     `json:"autoPct"`
	EstMinutesSaved int     `json:"estMinutesSaved"`
}
