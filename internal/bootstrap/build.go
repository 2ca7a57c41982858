package bootstrap

import (
	"github.com/loomhq/loomgate/internal/contextpack"
	"github.com/loomhq/loomgate/internal/workspace"
)

// TruncateConfig bundles the per-file and total character caps applied by
// BuildContextFiles (spec §4.1 per_file_max / total_max).
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

// LoadWorkspaceFiles reads every standard template file plus BOOTSTRAP.md
// from workspaceDir using a workspace.Reader, returning raw (untruncated)
// ContextFiles. Missing files are omitted.
func LoadWorkspaceFiles(workspaceDir string) []ContextFile {
	reader := workspace.NewReader(workspaceDir)
	var out []ContextFile
	for _, name := range workspace.ExpectedFiles {
		res := reader.Read(name)
		if res.Missing {
			continue
		}
		out = append(out, ContextFile{Path: name, Content: res.Content})
	}
	return out
}

// BuildContextFiles applies per-file truncation and the total-cap pass
// (internal/contextpack) to raw, returning the files that remain included
// after truncation, each holding its (possibly truncated) content.
func BuildContextFiles(raw []ContextFile, cfg TruncateConfig) []ContextFile {
	if cfg.MaxCharsPerFile <= 0 {
		cfg.MaxCharsPerFile = DefaultMaxCharsPerFile
	}
	if cfg.TotalMaxChars <= 0 {
		cfg.TotalMaxChars = DefaultTotalMaxChars
	}

	sections := make([]*contextpack.Section, 0, len(raw))
	for _, f := range raw {
		truncated, didTruncate := contextpack.TruncatePerFile(f.Content, cfg.MaxCharsPerFile)
		sections = append(sections, &contextpack.Section{
			Filename:         f.Path,
			Content:          truncated,
			RawChars:         contextpack.CharCount(f.Content),
			TruncatedPerFile: didTruncate,
			Included:         true,
		})
	}

	contextpack.ApplyTotalCap(sections, cfg.TotalMaxChars)

	out := make([]ContextFile, 0, len(sections))
	for _, s := range sections {
		if !s.Included {
			continue
		}
		out = append(out, ContextFile{Path: s.Filename, Content: s.Content})
	}
	return out
}
