package meter

import (
	"context"
	"log/slog"

	"github.com/ineyio/creditgate"
)

// LogMeter logs entitlement events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ creditgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmit(e creditgate.AdmitEvent) {
	m.Logger.Info("admit",
		"generation_id", e.GenerationID,
		"user", e.UserID,
		"plan", e.Plan,
		"slot", e.Slot,
		"fallback", e.Fallback,
		"cost", e.Cost,
		"generator", e.Generator,
		"model", e.Model,
	)
}

func (m *LogMeter) OnResult(e creditgate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"generation_id", e.GenerationID,
			"user", e.UserID,
			"plan", e.Plan,
			"slot", e.Slot,
			"fallback", e.Fallback,
			"cost", e.Cost,
			"charged", e.Charged,
			"images", e.Images,
			"duration_ms", e.Duration.Milliseconds(),
		)
		return
	}

	level := slog.LevelWarn
	if creditgate.IsQuotaError(e.Error) {
		level = slog.LevelInfo
	}
	m.Logger.Log(context.Background(), level, "result_error",
		"generation_id", e.GenerationID,
		"user", e.UserID,
		"plan", e.Plan,
		"slot", e.Slot,
		"fallback", e.Fallback,
		"cost", e.Cost,
		"duration_ms", e.Duration.Milliseconds(),
		"error", e.Error,
	)
}

func (m *LogMeter) OnReset(e creditgate.ResetEvent) {
	m.Logger.Info("reset",
		"user", e.UserID,
		"plan", e.Plan,
		"kind", e.Kind.String(),
		"at", e.At,
	)
}
