package tracing

import "log/slog"

// Event is a structured, low-cardinality occurrence logged regardless of
// whether managed-mode span tracing is active — context assembly, skill
// loading, workspace reads, and LLM provider fallback all emit one of
// these via slog so they show up in standalone-mode logs too.
type Event interface {
	logAttrs() []any
	eventName() string
}

func Emit(e Event) {
	slog.Info("trace_event", append([]any{"event", e.eventName()}, e.logAttrs()...)...)
}

// ContextBuilt records one context-pack assembly: how much was injected,
// truncated, and excluded.
type ContextBuilt struct {
	TotalInjectedChars    int
	FilesIncluded         int
	FilesTruncatedPerFile int
	FilesTruncatedTotalCap int
	FilesExcluded         int
	SkillsIndexChars      int
	UserFactsChars        int
	BootstrapIncluded     bool
}

func (e ContextBuilt) eventName() string { return "context_built" }
func (e ContextBuilt) logAttrs() []any {
	return []any{
		"total_injected_chars", e.TotalInjectedChars,
		"files_included", e.FilesIncluded,
		"files_truncated_per_file", e.FilesTruncatedPerFile,
		"files_truncated_total_cap", e.FilesTruncatedTotalCap,
		"files_excluded", e.FilesExcluded,
		"skills_index_chars", e.SkillsIndexChars,
		"user_facts_chars", e.UserFactsChars,
		"bootstrap_included", e.BootstrapIncluded,
	}
}

// SkillDocLoaded records one skill document pulled into context.
type SkillDocLoaded struct {
	SkillName string
	DocChars  int
}

func (e SkillDocLoaded) eventName() string { return "skill_doc_loaded" }
func (e SkillDocLoaded) logAttrs() []any {
	return []any{"skill_name", e.SkillName, "doc_chars", e.DocChars}
}

// UserFactsFetched records one memory-facts lookup for a user.
type UserFactsFetched struct {
	UserID       string
	FactsChars   int
	PinnedCount  int
	SearchCount  int
}

func (e UserFactsFetched) eventName() string { return "user_facts_fetched" }
func (e UserFactsFetched) logAttrs() []any {
	return []any{
		"user_id", e.UserID, "facts_chars", e.FactsChars,
		"pinned_count", e.PinnedCount, "search_count", e.SearchCount,
	}
}

// WorkspaceFileRead records one bootstrap/workspace file read.
type WorkspaceFileRead struct {
	Filename string
	RawChars int
	CacheHit bool
}

func (e WorkspaceFileRead) eventName() string { return "workspace_file_read" }
func (e WorkspaceFileRead) logAttrs() []any {
	return []any{"filename", e.Filename, "raw_chars", e.RawChars, "cache_hit", e.CacheHit}
}

// BootstrapCompleted records a completed workspace bootstrap.
type BootstrapCompleted struct {
	WorkspaceID string
}

func (e BootstrapCompleted) eventName() string { return "bootstrap_completed" }
func (e BootstrapCompleted) logAttrs() []any {
	return []any{"workspace_id", e.WorkspaceID}
}

// MemoryCall records one call into the memory subsystem's HTTP surface.
type MemoryCall struct {
	Endpoint   string
	Status     int
	DurationMS int64
}

func (e MemoryCall) eventName() string { return "memory_call" }
func (e MemoryCall) logAttrs() []any {
	return []any{"endpoint", e.Endpoint, "status", e.Status, "duration_ms", e.DurationMS}
}

// LlmRequest records one completed LLM call outside the managed-mode span
// tree (standalone mode has no TracingStore to hold a SpanData row).
type LlmRequest struct {
	Provider         string
	Model            string
	Role             string
	Streaming        bool
	DurationMS       int64
	PromptTokens     int
	CompletionTokens int
}

func (e LlmRequest) eventName() string { return "llm_request" }
func (e LlmRequest) logAttrs() []any {
	return []any{
		"provider", e.Provider, "model", e.Model, "role", e.Role,
		"streaming", e.Streaming, "duration_ms", e.DurationMS,
		"prompt_tokens", e.PromptTokens, "completion_tokens", e.CompletionTokens,
	}
}

// LlmFallback records a provider/model fallback decision (e.g. the primary
// provider errored or timed out and the router retried against a backup).
type LlmFallback struct {
	FromProvider string
	FromModel    string
	ToProvider   string
	ToModel      string
	Reason       string
}

func (e LlmFallback) eventName() string { return "llm_fallback" }
func (e LlmFallback) logAttrs() []any {
	return []any{
		"from_provider", e.FromProvider, "from_model", e.FromModel,
		"to_provider", e.ToProvider, "to_model", e.ToModel, "reason", e.Reason,
	}
}
