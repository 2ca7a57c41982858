package contextpack

import "strings"

// Mode selects which optional sections are eligible for inclusion.
type Mode string

const (
	ModeBootstrap Mode = "bootstrap"
	ModeNormal    Mode = "normal"
	ModeHeartbeat Mode = "heartbeat"
	ModePrivate   Mode = "private"
)

// WorkspaceFile is one expected workspace file input to the builder. A
// file the workspace reader could not find is represented with
// Missing=true and empty Content.
type WorkspaceFile struct {
	Filename string
	Content  string
	Missing  bool
}

// BuildInput bundles everything the builder needs to produce a byte-stable
// prompt prefix plus its report.
type BuildInput struct {
	Files         []WorkspaceFile
	Mode          Mode
	FirstRun      bool
	SkillsIndex   string // empty means absent
	UserFacts     string // empty means absent
	PerFileMax    int
	TotalMax      int
	BootstrapFile string // filename that identifies BOOTSTRAP.md, e.g. "BOOTSTRAP.md"
}

// Build assembles the prompt prefix and its structured report. It is pure
// and deterministic: identical input produces byte-identical output.
func Build(in BuildInput) (string, ContextReport) {
	var sections []*Section
	var rendered []string

	appendRendered := func(s *Section, body string) {
		rendered = append(rendered, body)
	}

	// 1. Skills index section, if present.
	skillsChars := 0
	if in.SkillsIndex != "" {
		skillsChars = CharCount(in.SkillsIndex)
		sections = append(sections, &Section{Filename: "SKILLS_INDEX", Content: FormatSkillsIndex(in.SkillsIndex), Included: true})
	}

	// 2. User facts section, if present.
	factsChars := 0
	if in.UserFacts != "" {
		factsChars = CharCount(in.UserFacts)
		sections = append(sections, &Section{Filename: "USER_FACTS", Content: FormatUserFacts(in.UserFacts), Included: true})
	}

	// 3. File sections, per-file truncated, bootstrap file excluded outside
	// bootstrap mode regardless of presence.
	var fileReports []FileReport
	bootstrapIncluded := false

	for _, f := range in.Files {
		isBootstrap := in.BootstrapFile != "" && f.Filename == in.BootstrapFile
		if isBootstrap && in.Mode != ModeBootstrap {
			// Excluded regardless of presence; no report entry emitted for
			// the caps pass, but we still surface it so callers can see it
			// was intentionally skipped.
			fileReports = append(fileReports, FileReport{
				Filename: f.Filename,
				Included: false,
				Missing:  f.Missing,
			})
			continue
		}

		if f.Missing {
			sections = append(sections, &Section{Filename: f.Filename, Content: FormatMissingMarker(f.Filename), Included: true, Missing: true})
			fileReports = append(fileReports, FileReport{Filename: f.Filename, Missing: true, Included: true})
			continue
		}

		raw := CharCount(f.Content)
		truncated, didTruncate := TruncatePerFile(f.Content, in.PerFileMax)
		body := FormatWorkspaceSection(f.Filename, truncated, raw, didTruncate, false)
		sec := &Section{Filename: f.Filename, Content: body, RawChars: raw, TruncatedPerFile: didTruncate, Included: true}
		sections = append(sections, sec)
		fileReports = append(fileReports, FileReport{
			Filename:         f.Filename,
			RawChars:         raw,
			InjectedChars:    CharCount(truncated),
			TruncatedPerFile: didTruncate,
			Included:         true,
		})
		if isBootstrap {
			bootstrapIncluded = true
		}
	}

	// 4. Total-cap pass over the included sections, in order.
	ApplyTotalCap(sections, in.TotalMax)

	totalInjected := 0
	// Reconcile per-file report entries with any total-cap truncation the
	// pass above applied; section order mirrors fileReports order only for
	// the file sections, so walk sections back into the report by filename.
	byFilename := make(map[string]*Section, len(sections))
	for _, s := range sections {
		byFilename[s.Filename] = s
		if s.Included {
			totalInjected += CharCount(s.Content)
		}
		appendRendered(s, s.Content)
	}
	for i := range fileReports {
		if s, ok := byFilename[fileReports[i].Filename]; ok {
			fileReports[i].Included = s.Included
			fileReports[i].TruncatedTotalCap = s.TruncatedTotalCap
			if !s.Included {
				fileReports[i].InjectedChars = 0
			}
		}
	}

	report := ContextReport{
		Files:              fileReports,
		SkillsIndexChars:   skillsChars,
		UserFactsChars:     factsChars,
		TotalInjectedChars: totalInjected,
		BootstrapIncluded:  bootstrapIncluded,
		FirstRun:           in.FirstRun,
	}

	return joinNonEmpty(rendered), report
}

var _ = strings.TrimSpace
