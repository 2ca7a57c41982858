package bootstrap

import (
	"github.com/loomhq/loomgate/internal/sessions"
)

// ContextFile is one workspace file headed into the context pack: its
// on-disk path (relative to the workspace root) and its content.
type ContextFile struct {
	Path    string
	Content string
}

// Standard workspace template filenames (seeded by EnsureWorkspaceFiles).
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	ToolsFile     = "TOOLS.md"
	IdentityFile  = "IDENTITY.md"
	UserFile      = "USER.md"
	HeartbeatFile = "HEARTBEAT.md"
	BootstrapFile = "BOOTSTRAP.md"

	// DelegationFile and TeamFile are synthesized context files, not seeded
	// templates: the resolver injects them when an agent has delegation
	// targets or team membership.
	DelegationFile = "DELEGATION.md"
	TeamFile       = "TEAM.md"
)

// Default per-file and total character caps applied by BuildContextFiles
// when the caller has not configured its own (spec §4.1 per_file_max /
// total_max, matching config.AgentDefaults.BootstrapMaxChars /
// BootstrapTotalMaxChars).
const (
	DefaultMaxCharsPerFile = 20000
	DefaultTotalMaxChars   = 24000
)

// IsSubagentSession and IsCronSession re-export the session-key predicates
// for callers that otherwise only import the bootstrap package.
func IsSubagentSession(sessionKey string) bool { return sessions.IsSubagentSession(sessionKey) }
func IsCronSession(sessionKey string) bool     { return sessions.IsCronSession(sessionKey) }
