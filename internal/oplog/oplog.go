// Package oplog adapts a zap logger to the ledger's OperationLogger callback.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"go.uber.org/zap"
)

// Logger logs every ledger operation attempt with its outcome.
type Logger struct {
	base *zap.Logger
}

// New returns a Logger writing through the supplied zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

// LogOperation implements crowdfund.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry crowdfund.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("actor", entry.Actor.String()),
		zap.Int64("campaign_id", entry.CampaignID.Int64()),
		zap.Int64("amount_cents", entry.AmountCents.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		logger.base.Warn("ledger operation rejected", append(fields, zap.Error(entry.Error))...)
		return
	}
	logger.base.Info("ledger operation applied", fields...)
}
