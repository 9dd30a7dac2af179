package audit

import "go.uber.org/zap"

// LogSink is a fallback Sink that writes events to the logger. Used for
// local development and when no ClickHouse DSN is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(event *Event) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("phase", event.Phase),
		zap.String("execution_id", event.ExecutionID),
		zap.String("tool_name", event.ToolName),
	}
	if event.AgentName != "" {
		fields = append(fields, zap.String("agent_name", event.AgentName))
	}
	if event.Allowed != nil {
		fields = append(fields, zap.Bool("allowed", *event.Allowed))
	}
	if event.Supervision != "" {
		fields = append(fields, zap.String("supervision_level", event.Supervision))
	}
	if event.Risk != "" {
		fields = append(fields, zap.String("risk_level", event.Risk))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	s.logger.Info("gate_audit_event", fields...)
}

func (s *LogSink) Close() {}
