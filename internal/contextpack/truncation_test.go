package contextpack

import (
	"strings"
	"testing"
)

func TestTruncatePerFile_UnderLimit(t *testing.T) {
	result, truncated := TruncatePerFile("hello world", 100)
	if result != "hello world" {
		t.Fatalf("expected verbatim content, got %q", result)
	}
	if truncated {
		t.Fatalf("expected truncated=false")
	}
}

func TestTruncatePerFile_AtLimit(t *testing.T) {
	content := "abcdefghij"
	result, truncated := TruncatePerFile(content, 5)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if !strings.HasPrefix(result, "abcde") {
		t.Fatalf("expected prefix abcde, got %q", result)
	}
	if !strings.Contains(result, "[TRUNCATED]") {
		t.Fatalf("expected [TRUNCATED] sentinel, got %q", result)
	}
}

func TestTruncatePerFile_RuneBoundary(t *testing.T) {
	// Multi-byte runes must not be split.
	content := strings.Repeat("日", 10)
	result, truncated := TruncatePerFile(content, 3)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if !strings.HasPrefix(result, "日日日") {
		t.Fatalf("expected 3 whole runes preserved, got %q", result)
	}
}

func TestApplyTotalCap_ExcludesOverflow(t *testing.T) {
	sections := []*Section{
		{Filename: "A.md", Content: "aaaa", Included: true},
		{Filename: "B.md", Content: "bbbbbb", Included: true},
		{Filename: "C.md", Content: "cccc", Included: true},
	}

	ApplyTotalCap(sections, 8)

	if !sections[0].Included || sections[0].TruncatedTotalCap {
		t.Fatalf("section A should be included untouched: %+v", sections[0])
	}
	if !sections[1].Included || !sections[1].TruncatedTotalCap {
		t.Fatalf("section B should be included and truncated: %+v", sections[1])
	}
	if sections[2].Included {
		t.Fatalf("section C should be excluded: %+v", sections[2])
	}
}

func TestApplyTotalCap_SumNeverExceedsCap(t *testing.T) {
	sections := []*Section{
		{Filename: "A.md", Content: strings.Repeat("a", 50), Included: true},
		{Filename: "B.md", Content: strings.Repeat("b", 50), Included: true},
		{Filename: "C.md", Content: strings.Repeat("c", 50), Included: true},
	}
	const cap = 80
	ApplyTotalCap(sections, cap)

	total := 0
	for _, s := range sections {
		if s.Included {
			total += CharCount(s.Content)
		}
	}
	if total > cap+len(truncatedTotalCapSentinel) {
		t.Fatalf("total injected chars %d exceeds cap+sentinel", total)
	}
}

// TestS1Bootstrap exercises end-to-end scenario S1 from the spec: a
// first run for workspace "default" with BOOTSTRAP.md present.
func TestS1Bootstrap(t *testing.T) {
	bootstrap := strings.Repeat("b", 10*1024/10) // ~10kB equivalent in runes
	in := BuildInput{
		Files: []WorkspaceFile{
			{Filename: "BOOTSTRAP.md", Content: bootstrap},
		},
		Mode:          ModeBootstrap,
		FirstRun:      true,
		SkillsIndex:   "skill-a, skill-b",
		PerFileMax:    20000,
		TotalMax:      24000,
		BootstrapFile: "BOOTSTRAP.md",
	}
	_, report := Build(in)

	if !report.BootstrapIncluded {
		t.Fatalf("expected bootstrap_included=true")
	}
	if !report.FirstRun {
		t.Fatalf("expected first_run=true")
	}
	if report.SkillsIndexChars == 0 {
		t.Fatalf("expected skills index chars to be recorded")
	}
	if report.UserFactsChars != 0 {
		t.Fatalf("expected user facts absent")
	}

	in.FirstRun = false
	_, report2 := Build(in)
	if report2.FirstRun {
		t.Fatalf("expected first_run=false on subsequent run")
	}
}

// TestS2PerFileTruncation exercises end-to-end scenario S2: SOUL.md of
// 31240 characters against per_file=20000.
func TestS2PerFileTruncation(t *testing.T) {
	soul := strings.Repeat("s", 31240)
	in := BuildInput{
		Files: []WorkspaceFile{
			{Filename: "SOUL.md", Content: soul},
		},
		Mode:       ModeNormal,
		PerFileMax: 20000,
		TotalMax:   1 << 20,
	}
	assembled, report := Build(in)

	if len(report.Files) != 1 {
		t.Fatalf("expected 1 file report, got %d", len(report.Files))
	}
	fr := report.Files[0]
	if fr.RawChars != 31240 {
		t.Fatalf("expected raw_chars=31240, got %d", fr.RawChars)
	}
	if fr.InjectedChars > 20000+16 {
		t.Fatalf("expected injected_chars <= 20016, got %d", fr.InjectedChars)
	}
	if !fr.TruncatedPerFile {
		t.Fatalf("expected truncated_per_file=true")
	}
	if !strings.Contains(assembled, "[TRUNCATED]\n") {
		t.Fatalf("expected assembled output to end section with [TRUNCATED]")
	}
}

func TestBuild_MissingFile(t *testing.T) {
	in := BuildInput{
		Files: []WorkspaceFile{
			{Filename: "USER.md", Missing: true},
		},
		Mode:       ModeNormal,
		PerFileMax: 1000,
		TotalMax:   1000,
	}
	assembled, report := Build(in)
	if !strings.Contains(assembled, "MISSING: true") {
		t.Fatalf("expected missing marker in assembled output")
	}
	if !report.Files[0].Missing {
		t.Fatalf("expected report to mark file missing")
	}
}

func TestBuild_ExcludesBootstrapOutsideBootstrapMode(t *testing.T) {
	in := BuildInput{
		Files: []WorkspaceFile{
			{Filename: "BOOTSTRAP.md", Content: "seed content"},
		},
		Mode:          ModeNormal,
		BootstrapFile: "BOOTSTRAP.md",
		PerFileMax:    1000,
		TotalMax:      1000,
	}
	assembled, report := Build(in)
	if strings.Contains(assembled, "seed content") {
		t.Fatalf("expected BOOTSTRAP.md excluded outside bootstrap mode")
	}
	if report.BootstrapIncluded {
		t.Fatalf("expected bootstrap_included=false")
	}
}
