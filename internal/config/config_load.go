package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/replygate/internal/gating"
)

const secretMask = "***"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
			TimeoutSec:  60,
			MaxRetries:  3,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.replygate/replygate.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "replygate",
		},
		Gateway: GatewayConfig{
			InboundBuffer: 256,
			SendInterval:  "300ms",
			SendBurst:     3,
			SweepSchedule: "* * * * *",
			HistoryLimit:  20,
			LogRetention:  "720h",
			PruneSchedule: "17 * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("REPLYGATE_AGENT_ID", &c.Agent.ID)
	envStr("REPLYGATE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("REPLYGATE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("REPLYGATE_LLM_API_KEY", &c.LLM.APIKey)
	envStr("REPLYGATE_LLM_API_BASE", &c.LLM.APIBase)
	envStr("REPLYGATE_MODEL", &c.LLM.Model)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Database
	envStr("REPLYGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("REPLYGATE_DB_DRIVER", &c.Database.Driver)
	envStr("REPLYGATE_SQLITE_PATH", &c.Database.SQLitePath)

	// Telemetry
	envStr("REPLYGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("REPLYGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("REPLYGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("REPLYGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REPLYGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("REPLYGATE_INBOUND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Gateway.InboundBuffer = n
		}
	}
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	if c.Team.IsPartOfTeam {
		if c.Team.LeaderID == "" {
			errs = append(errs, errors.New("team.team_leader_id is required when is_part_of_team is set"))
		}
		if c.Agent.ID != "" && !contains(c.Team.AgentIDs, c.Agent.ID) {
			errs = append(errs, fmt.Errorf("agent %q is not listed in team.team_agent_ids", c.Agent.ID))
		}
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	if _, err := c.ToTuning(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ToTuning converts the tuning section to gating.Tuning. Unset fields stay
// zero so the engine applies its defaults.
func (c *Config) ToTuning() (gating.Tuning, error) {
	tc := c.Tuning
	t := gating.Tuning{
		MaxMessages:                tc.MaxMessages,
		RecentMessageCount:         tc.RecentMessageCount,
		ChatHistoryCount:           tc.ChatHistoryCount,
		DefaultSimilarityThreshold: tc.SimilarityThreshold,
		AfterLeaderChance:          tc.AfterLeaderChance,
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"decay_after", tc.DecayAfter, &t.DecayAfter},
		{"leader_response_window", tc.LeaderResponseWindow, &t.LeaderResponseWindow},
		{"team_member_delay", tc.TeamMemberDelay, &t.TeamMemberDelay},
		{"leader_delay_min", tc.LeaderDelayMin, &t.LeaderDelayMin},
		{"leader_delay_max", tc.LeaderDelayMax, &t.LeaderDelayMax},
		{"member_delay_min", tc.MemberDelayMin, &t.MemberDelayMin},
		{"member_delay_max", tc.MemberDelayMax, &t.MemberDelayMax},
		{"classifier_timeout", tc.ClassifierTimeout, &t.ClassifierTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return gating.Tuning{}, fmt.Errorf("tuning.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return t, nil
}

// SendIntervalDuration returns the parsed outbound pacing interval, 0 when unset or invalid.
func (g GatewayConfig) SendIntervalDuration() time.Duration {
	d, err := time.ParseDuration(g.SendInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// LogRetentionDuration returns the parsed retention, 0 when unset, invalid or disabled.
func (g GatewayConfig) LogRetentionDuration() time.Duration {
	d, err := time.ParseDuration(g.LogRetention)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Save writes the config to a JSON file. Secrets are stripped.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	cp := cfg.copyLocked()
	cp.StripSecrets()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, e.g. to tag traces with the
// configuration they ran under.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used when printing the effective config.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := c.copyLocked()
	maskNonEmpty(&cp.LLM.APIKey)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Database.PostgresDSN)
	for k := range cp.Telemetry.Headers {
		v := cp.Telemetry.Headers[k]
		maskNonEmpty(&v)
		cp.Telemetry.Headers[k] = v
	}
	return cp
}

// StripSecrets zeros out all secret fields in the config.
func (c *Config) StripSecrets() {
	c.LLM.APIKey = ""
	c.Channels.Telegram.Token = ""
	c.Channels.Discord.Token = ""
	c.Database.PostgresDSN = ""
}

// copyLocked deep-copies via a JSON round-trip. Caller holds mu.
func (c *Config) copyLocked() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := &Config{}
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	cp.Database.PostgresDSN = c.Database.PostgresDSN // not serialized
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ResolvePath picks the config file: flag, then $REPLYGATE_CONFIG, then config.json.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("REPLYGATE_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// ChatKeyOverrides returns per-chat threshold overrides with keys trimmed.
func (c *Config) ChatKeyOverrides() map[string]float64 {
	out := make(map[string]float64, len(c.Agent.ThresholdOverrides))
	for k, v := range c.Agent.ThresholdOverrides {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	return out
}
