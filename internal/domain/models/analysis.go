package models

import "time"

// MuteReason explains why a symbol is excluded from analysis.
type MuteReason string

const (
	MuteReasonWait          MuteReason = "WAIT_RESULT"
	MuteReasonLowConfidence MuteReason = "LOW_CONFIDENCE"
	MuteReasonManual        MuteReason = "MANUAL"
)

// Valid reports whether r is a known mute reason.
func (r MuteReason) Valid() bool {
	switch r {
	case MuteReasonWait, MuteReasonLowConfidence, MuteReasonManual:
		return true
	}
	return false
}

// AnalysisResult is the outcome of the most recent completed analysis.
type AnalysisResult struct {
	Kind              ResultKind `json:"kind"`
	ConfidencePercent int        `json:"confidence_percent"`
	ConfluencePoints  int        `json:"confluence_points"`
	MaxPoints         int        `json:"max_points"`
}

// AnalysisRecord is the per-symbol memory read by the smart filter and
// written once per completed analysis and by mute/unmute.
type AnalysisRecord struct {
	Symbol           string          `json:"symbol"`
	LastAnalysisTime *time.Time      `json:"last_analysis_time,omitempty"`
	LastPrice        float64         `json:"last_price"`
	LastRVOL         float64         `json:"last_rvol"`
	AnalysisCount    int             `json:"analysis_count"`
	LastResult       *AnalysisResult `json:"last_result,omitempty"`
	MuteUntil        *time.Time      `json:"mute_until,omitempty"`
	MuteReason       MuteReason      `json:"mute_reason,omitempty"`
}

// IsMuted reports whether the record is muted at now.
func (r *AnalysisRecord) IsMuted(now time.Time) bool {
	return r != nil && r.MuteUntil != nil && r.MuteUntil.After(now)
}

// Analyzed reports whether at least one analysis completed for the symbol.
func (r *AnalysisRecord) Analyzed() bool {
	return r != nil && r.LastAnalysisTime != nil
}

// Clone returns a deep copy so callers may mutate it freely.
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastAnalysisTime != nil {
		t := *r.LastAnalysisTime
		out.LastAnalysisTime = &t
	}
	if r.MuteUntil != nil {
		t := *r.MuteUntil
		out.MuteUntil = &t
	}
	if r.LastResult != nil {
		res := *r.LastResult
		out.LastResult = &res
	}
	return &out
}

// ObservationEntry remembers a symbol the filter skipped without a significant change.
type ObservationEntry struct {
	Symbol          string    `json:"symbol"`
	AddedTime       time.Time `json:"added_time"`
	LastCheckedTime time.Time `json:"last_checked_time"`
	Reason          string    `json:"reason"`
	CheckCount      int       `json:"check_count"`
}
