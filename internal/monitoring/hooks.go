package monitoring

import (
	"context"
	"log/slog"

	"github.com/hengadev/medx"
)

// Counter names reported by MetricsAuditHook.
const (
	MetricDecryptDenied = "medx.decrypt.denied"
	MetricAccessDenied  = "medx.access.denied"
)

// LoggingAuditHook writes access decisions as structured warnings. Field
// values never reach the log; only entity, record id and field names do.
type LoggingAuditHook struct {
	logger *slog.Logger
}

func NewLoggingAuditHook(logger *slog.Logger) *LoggingAuditHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingAuditHook{logger: logger.With(slog.String("component", "audit"))}
}

func (h *LoggingAuditHook) OnDecryptDenied(ctx context.Context, p medx.Principal, entity medx.EntityType, recordID, field string, err error) {
	h.logger.WarnContext(ctx, "decryption denied",
		slog.String("principal", p.ID),
		slog.String("role", string(p.Role)),
		slog.String("department", p.Department),
		slog.String("entity", string(entity)),
		slog.String("record_id", recordID),
		slog.String("field", field),
		slog.Any("error", err))
}

func (h *LoggingAuditHook) OnAccessDenied(ctx context.Context, p medx.Principal, entity medx.EntityType, action medx.Action, err error) {
	h.logger.WarnContext(ctx, "access denied",
		slog.String("principal", p.ID),
		slog.String("role", string(p.Role)),
		slog.String("entity", string(entity)),
		slog.String("action", string(action)),
		slog.Any("error", err))
}

// MetricsAuditHook counts access decisions per role and entity.
type MetricsAuditHook struct {
	collector MetricsCollector
}

func NewMetricsAuditHook(collector MetricsCollector) *MetricsAuditHook {
	return &MetricsAuditHook{collector: collector}
}

func (h *MetricsAuditHook) OnDecryptDenied(_ context.Context, p medx.Principal, entity medx.EntityType, _, field string, _ error) {
	h.collector.IncrementCounter(MetricDecryptDenied, map[string]string{
		"role":   string(p.Role),
		"entity": string(entity),
		"field":  field,
	})
}

func (h *MetricsAuditHook) OnAccessDenied(_ context.Context, p medx.Principal, entity medx.EntityType, action medx.Action, _ error) {
	h.collector.IncrementCounter(MetricAccessDenied, map[string]string{
		"role":   string(p.Role),
		"entity": string(entity),
		"action": string(action),
	})
}

// MultiAuditHook forwards every event to each hook in order.
type MultiAuditHook []medx.AuditHook

func (m MultiAuditHook) OnDecryptDenied(ctx context.Context, p medx.Principal, entity medx.EntityType, recordID, field string, err error) {
	for _, h := range m {
		h.OnDecryptDenied(ctx, p, entity, recordID, field, err)
	}
}

func (m MultiAuditHook) OnAccessDenied(ctx context.Context, p medx.Principal, entity medx.EntityType, action medx.Action, err error) {
	for _, h := range m {
		h.OnAccessDenied(ctx, p, entity, action, err)
	}
}

var (
	_ medx.AuditHook = (*LoggingAuditHook)(nil)
	_ medx.AuditHook = (*MetricsAuditHook)(nil)
	_ medx.AuditHook = MultiAuditHook(nil)
)
