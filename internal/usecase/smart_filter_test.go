package usecase

import (
	"context"
	"testing"
	"time"

	"TradeScout/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzed(at time.Time, price float64) *models.AnalysisRecord {
	return &models.AnalysisRecord{Symbol: "SOLUSDT", LastAnalysisTime: &at, LastPrice: price, AnalysisCount: 1}
}

func TestSmartFilterRules(t *testing.T) {
	e := newEnv(t)
	cand := models.Candidate{Symbol: "SOLUSDT", Price: 101}
	future := day.Add(time.Hour)
	past := day.Add(-time.Minute)

	mutedNew := &models.AnalysisRecord{Symbol: "SOLUSDT", MuteUntil: &future, MuteReason: models.MuteReasonManual}
	expiredMute := &models.AnalysisRecord{Symbol: "SOLUSDT", MuteUntil: &past, MuteReason: models.MuteReasonManual}
	mutedOld := analyzed(day.Add(-10*time.Hour), 50)
	mutedOld.MuteUntil = &future

	cases := []struct {
		name     string
		rec      *models.AnalysisRecord
		price    float64
		decision FilterDecision
		reason   string
	}{
		{"never seen", nil, 101, DecisionAnalyze, ReasonNewAsset},
		{"muted beats new asset", mutedNew, 101, DecisionSkip, ReasonMuted},
		{"muted beats every other rule", mutedOld, 101, DecisionSkip, ReasonMuted},
		{"expired mute on unanalyzed record", expiredMute, 101, DecisionAnalyze, ReasonNewAsset},
		{"time expired", analyzed(day.Add(-4*time.Hour-time.Second), 100), 100, DecisionAnalyze, ReasonTimeExpired},
		{"exactly at expiry is not expired", analyzed(day.Add(-4*time.Hour), 100), 100, DecisionSkip, ReasonNoChange},
		{"price delta up", analyzed(day.Add(-time.Hour), 100), 102.5, DecisionAnalyze, ReasonPriceDelta},
		{"price delta down", analyzed(day.Add(-time.Hour), 100), 97.9, DecisionAnalyze, ReasonPriceDelta},
		{"small move", analyzed(day.Add(-time.Hour), 100), 101.5, DecisionSkip, ReasonNoChange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cand
			c.Price = tc.price
			res := e.filter.Evaluate(c, tc.rec, day)
			assert.Equal(t, tc.decision, res.Decision)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestSmartFilterApplyRecordsObservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := day.Add(-time.Hour)
	_, err := e.stores.Analysis().Update(ctx, "SOLUSDT", func(*models.AnalysisRecord) (*models.AnalysisRecord, error) {
		return &models.AnalysisRecord{LastAnalysisTime: &at, LastPrice: 100, AnalysisCount: 1}, nil
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := e.filter.Apply(ctx, models.Candidate{Symbol: "SOLUSDT", Price: 100.5})
		require.NoError(t, err)
		assert.Equal(t, ReasonNoChange, res.Reason)
		e.clk.Advance(time.Minute)
	}

	obs, err := e.stores.Observations().List(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "SOLUSDT", obs[0].Symbol)
	assert.Equal(t, 2, obs[0].CheckCount)
	assert.Equal(t, ReasonNoChange, obs[0].Reason)

	// ANALYZE leaves the record and the observation list untouched.
	res, err := e.filter.Apply(ctx, models.Candidate{Symbol: "NEWUSDT", Price: 1})
	require.NoError(t, err)
	assert.Equal(t, ReasonNewAsset, res.Reason)
	obs, err = e.stores.Observations().List(ctx)
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	rec, err := e.stores.Analysis().Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AnalysisCount)
}
