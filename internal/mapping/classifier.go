// Package mapping classifies candidate column mappings against a confidence threshold and
// tracks the user's decision for each candidate.
package mapping

import (
	"math"

	"github.com/rpattn/datafusion/internal/domain"
)

const (
	// DefaultThreshold is the confidence at or above which a candidate is auto accepted.
	DefaultThreshold = 0.70
	// ReviewSecondsPerMapping is the manual review time saved by each auto accepted mapping.
	ReviewSecondsPerMapping = 20
)

// IsAuto reports whether the candidate clears the threshold. The boundary is inclusive.
func IsAuto(candidate domain.MappingCandidate, threshold float64) bool {
	return candidate.Confidence >= threshold
}

// Classify splits candidates around threshold using the default review time.
func Classify(candidates []domain.MappingCandidate, threshold float64) domain.ThresholdStats {
	return ClassifyWithReviewTime(candidates, threshold, ReviewSecondsPerMapping)
}

// ClassifyWithReviewTime splits candidates around threshold. reviewSeconds values at or
// below zero fall back to ReviewSecondsPerMapping. Candidates are never modified.
func ClassifyWithReviewTime(candidates []domain.MappingCandidate, threshold float64, reviewSeconds int) domain.ThresholdStats {
	if reviewSeconds <= 0 {
		reviewSeconds = ReviewSecondsPerMapping
	}
	stats := domain.ThresholdStats{Threshold: threshold, Total: len(candidates)}
	for _, candidate := range candidates {
		if IsAuto(candidate, threshold) {
			stats.AutoCount++
		}
	}
	stats.ReviewCount = stats.Total - stats.AutoCount
	if stats.Total > 0 {
		stats.AutoPct = int(math.Round(float64(stats.AutoCount) / float64(stats.Total) * 100))
	}
	stats.EstMinutesSaved = int(math.Round(float64(stats.AutoCount*reviewSeconds) / 60))
	return stats
}

// MatchDecisionFor maps the threshold outcome onto the backend's auto/review vocabulary.
func MatchDecisionFor(confidence, threshold float64) domain.MatchDecision {
	if confidence >= threshold {
		return domain.MatchAuto
	}
	return domain.MatchReview
}

// Reclassify returns a copy of resp with every candidate decision and the stats block
// recomputed for threshold.
func Reclassify(resp domain.MatchResponse, threshold float64, reviewSeconds int) domain.MatchResponse {
	out := resp
	out.Candidates = make([]domain.MatchCandidate, len(resp.Candidates))
	for i, candidate := range resp.Candidates {
		candidate.Decision = MatchDecisionFor(candidate.Confidence, threshold)
		out.Candidates[i] = candidate
	}

	stats := ClassifyWithReviewTime(resp.MappingCandidates(), threshold, reviewSeconds)
	out.Threshold = &threshold
	out.Stats = &domain.MatchStats{
		TotalPairs:            stats.Total,
		AutoCount:             stats.AutoCount,
		ReviewCount:           stats.ReviewCount,
		AutoPct:               stats.AutoPct,
		EstimatedMinutesSaved: stats.EstMinutesSaved,
	}
	return out
}
