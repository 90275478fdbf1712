package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/jmylchreest/camstreamd/internal/service/logs"
)

// LogsHandler exposes the in-memory log journal.
type LogsHandler struct {
	journal           *logs.Journal
	heartbeatInterval time.Duration
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(journal *logs.Journal) *LogsHandler {
	return &LogsHandler{journal: journal, heartbeatInterval: logs.HeartbeatInterval}
}

// LogEvent is a log entry sent on the stream.
type LogEvent logs.Entry

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Time int64 `json:"time" doc:"Unix seconds"`
}

// Register registers the logs routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRecentLogs",
		Method:      "GET",
		Path:        "/api/v1/logs/recent",
		Summary:     "Get recent logs",
		Tags:        []string{"Logs"},
	}, h.GetRecent)

	huma.Register(api, huma.Operation{
		OperationID: "getLogStats",
		Method:      "GET",
		Path:        "/api/v1/logs/stats",
		Summary:     "Get log statistics",
		Tags:        []string{"Logs"},
	}, h.GetStats)

	sse.Register(api, huma.Operation{
		OperationID: "streamLogs",
		Method:      "GET",
		Path:        "/api/v1/logs/stream",
		Summary:     "Subscribe to log entries",
		Description: "Server-sent events: `log` for each entry, `heartbeat` while idle.",
		Tags:        []string{"Logs"},
	}, map[string]any{
		"log":       LogEvent{},
		"heartbeat": HeartbeatEvent{},
	}, h.Stream)
}

// LogFilterInput narrows which entries are returned.
type LogFilterInput struct {
	Level     string `query:"level" doc:"Minimum level: trace, debug, info, warn or error"`
	Component string `query:"component" doc:"Only entries from this component, e.g. registry or mavlink"`
}

func (in LogFilterInput) filter() logs.Filter {
	return logs.Filter{MinLevel: in.Level, Component: in.Component}
}

// RecentLogsInput is the input for fetching recent logs.
type RecentLogsInput struct {
	LogFilterInput
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

// RecentLogsOutput is the output for fetching recent logs.
type RecentLogsOutput struct {
	Body struct {
		Logs []logs.Entry `json:"logs"`
	}
}

// GetRecent returns the newest matching entries, oldest first.
func (h *LogsHandler) GetRecent(ctx context.Context, input *RecentLogsInput) (*RecentLogsOutput, error) {
	out := &RecentLogsOutput{}
	out.Body.Logs = h.journal.Recent(input.Limit, input.filter())
	return out, nil
}

// LogStatsOutput is the output for log statistics.
type LogStatsOutput struct {
	Body logs.Stats
}

// GetStats returns journal statistics.
func (h *LogsHandler) GetStats(ctx context.Context, input *struct{}) (*LogStatsOutput, error) {
	return &LogStatsOutput{Body: h.journal.Stats()}, nil
}

// StreamLogsInput is the input for the log stream.
type StreamLogsInput struct {
	LogFilterInput
	Initial int `query:"initial" default:"50" minimum:"0" maximum:"500" doc:"Recent entries to replay on connect"`
}

// Stream replays recent entries then follows the journal until the client
// goes away.
func (h *LogsHandler) Stream(ctx context.Context, input *StreamLogsInput, send sse.Sender) {
	filter := input.filter()
	entries := h.journal.Subscribe(ctx)

	if input.Initial > 0 {
		for _, e := range h.journal.Recent(input.Initial, filter) {
			if err := send.Data(LogEvent(e)); err != nil {
				return
			}
		}
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-heartbeat.C:
			if err := send.Data(HeartbeatEvent{Time: t.Unix()}); err != nil {
				return
			}
		case e, ok := <-entries:
			if !ok {
				return
			}
			if !filter.Match(e) {
				continue
			}
			if err := send.Data(LogEvent(e)); err != nil {
				return
			}
		}
	}
}
