package service

import (
	"context"

	"TradeScout/internal/domain/models"
)

// Oracle performs the deep multi-factor analysis of one symbol.
type Oracle interface {
	Analyze(ctx context.Context, req models.AnalysisContext) (*models.OracleResult, error)
}
