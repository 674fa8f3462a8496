package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/replygate/internal/team"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration of one replygate agent process.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Team      team.Config     `json:"team,omitempty"`
	Tuning    TuningConfig    `json:"tuning,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	LLM       LLMConfig       `json:"llm"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Gateway   GatewayConfig   `json:"gateway,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig identifies the agent this process runs.
type AgentConfig struct {
	ID           string `json:"id"`                      // stable agent id, shared with teammates' team config
	Name         string `json:"name,omitempty"`          // display name used in prompts
	Username     string `json:"username,omitempty"`      // chat username; transports fill it in when empty
	SystemPrompt string `json:"system_prompt,omitempty"` // persona for reply generation
	// ThresholdOverrides sets per-chat context thresholds, keyed by "channel:chat_id".
	ThresholdOverrides map[string]float64 `json:"threshold_overrides,omitempty"`
}

// TuningConfig overrides the gating defaults. Durations are Go duration
// strings ("1500ms", "5m"); empty or zero fields keep the default.
type TuningConfig struct {
	MaxMessages          int     `json:"max_messages,omitempty"`
	RecentMessageCount   int     `json:"recent_message_count,omitempty"`
	ChatHistoryCount     int     `json:"chat_history_count,omitempty"`
	SimilarityThreshold  float64 `json:"similarity_threshold,omitempty"`
	DecayAfter           string  `json:"decay_after,omitempty"`
	LeaderResponseWindow string  `json:"leader_response_window,omitempty"`
	TeamMemberDelay      string  `json:"team_member_delay,omitempty"`
	LeaderDelayMin       string  `json:"leader_delay_min,omitempty"`
	LeaderDelayMax       string  `json:"leader_delay_max,omitempty"`
	MemberDelayMin       string  `json:"member_delay_min,omitempty"`
	MemberDelayMax       string  `json:"member_delay_max,omitempty"`
	AfterLeaderChance    float64 `json:"after_leader_chance,omitempty"`
	ClassifierTimeout    string  `json:"classifier_timeout,omitempty"`
}

// LLMConfig configures the OpenAI-compatible endpoint used for replies and
// for the should-respond classifier.
type LLMConfig struct {
	APIBase         string  `json:"api_base,omitempty"` // default https://api.openai.com/v1
	APIKey          string  `json:"api_key,omitempty"`  // or env REPLYGATE_LLM_API_KEY
	Model           string  `json:"model,omitempty"`
	ClassifierModel string  `json:"classifier_model,omitempty"` // defaults to Model
	MaxTokens       int     `json:"max_tokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TimeoutSec      int     `json:"timeout_sec,omitempty"`
	MaxRetries      int     `json:"max_retries,omitempty"` // attempts per request (default 3)
}

// DatabaseConfig configures the persistent message log.
// PostgresDSN is NEVER read from config.json (secret), only from env REPLYGATE_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.replygate/replygate.db
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry export for decision traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "replygate")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// GatewayConfig configures the runtime around the engine.
type GatewayConfig struct {
	InboundBuffer int    `json:"inbound_buffer,omitempty"` // bus queue size (default 256)
	SendInterval  string `json:"send_interval,omitempty"`  // pacing between outbound chunks (default "300ms")
	SendBurst     int    `json:"send_burst,omitempty"`     // chunks sent without pacing (default 3)
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression for decayed-chat sweeps
	HistoryLimit  int    `json:"history_limit,omitempty"`  // messages handed to reply generation (default 20)
	LogRetention  string `json:"log_retention,omitempty"`  // message log entries older than this are pruned ("0" keeps all)
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron expression for message log pruning
}
