package config

// ChannelsConfig holds the transport sections.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled     bool                `json:"enabled"`
	Token       string              `json:"token"`
	Proxy       string              `json:"proxy,omitempty"`
	AllowFrom   FlexibleStringSlice `json:"allow_from"`
	DMPolicy    string              `json:"dm_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupPolicy string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	LinkPreview *bool               `json:"link_preview,omitempty"` // enable URL previews in messages (default true)
}

type DiscordConfig struct {
	Enabled     bool                `json:"enabled"`
	Token       string              `json:"token"`
	AllowFrom   FlexibleStringSlice `json:"allow_from"`
	DMPolicy    string              `json:"dm_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupPolicy string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	AllowBots   bool                `json:"allow_bots,omitempty"`   // forward messages from other bots (teammates on Discord)
}
