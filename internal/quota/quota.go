package quota

// Config is the operator-configured daily usage quota, ported field-for-field
// from the domain crate's quota config: a default applied to any agent
// without its own entry, and a per-agent override map.
type Config struct {
	DefaultDailyTokens  *uint64              `json:"default_daily_tokens,omitempty"`
	DefaultDailyCostUSD *float64             `json:"default_daily_cost_usd,omitempty"`
	PerAgent            map[string]AgentQuota `json:"per_agent,omitempty"`
}

// AgentQuota is one agent's daily limits. A nil field is uncapped.
type AgentQuota struct {
	DailyTokens  *uint64  `json:"daily_tokens,omitempty"`
	DailyCostUSD *float64 `json:"daily_cost_usd,omitempty"`
}

// limitsFor resolves the effective limits for agentID: its own entry if
// present, otherwise the config-wide default.
func (c Config) limitsFor(agentID string) AgentQuota {
	if c.PerAgent != nil {
		if q, ok := c.PerAgent[agentID]; ok {
			return q
		}
	}
	return AgentQuota{DailyTokens: c.DefaultDailyTokens, DailyCostUSD: c.DefaultDailyCostUSD}
}
