package contextpack

import "fmt"

// FormatWorkspaceSection renders a workspace file with the machine-parsable
// delimiters the runtime (and downstream debugging tools) expect.
func FormatWorkspaceSection(filename, content string, rawChars int, truncatedPerFile, truncatedTotalCap bool) string {
	return fmt.Sprintf(
		"=== WORKSPACE_FILE: %s ===\nRAW_CHARS: %d\nINJECTED_CHARS: %d\nTRUNCATED_PER_FILE: %t\nTRUNCATED_TOTAL_CAP: %t\n--- BEGIN ---\n%s\n--- END ---\n",
		filename, rawChars, CharCount(content), truncatedPerFile, truncatedTotalCap, content,
	)
}

// FormatMissingMarker renders the marker section for a file that was
// expected but absent from the workspace.
func FormatMissingMarker(filename string) string {
	return fmt.Sprintf(
		"=== WORKSPACE_FILE: %s ===\nMISSING: true\n--- BEGIN ---\n[FILE NOT FOUND]\n--- END ---\n",
		filename,
	)
}

// FormatSkillsIndex wraps the compact skills index in its section markers.
func FormatSkillsIndex(indexContent string) string {
	return fmt.Sprintf("=== SKILLS_INDEX ===\n%s\n=== END_SKILLS_INDEX ===\n", indexContent)
}

// FormatUserFacts wraps learned-facts content (from the memory backend) in
// its section markers.
func FormatUserFacts(factsContent string) string {
	return fmt.Sprintf("=== USER_FACTS ===\n%s\n=== END_USER_FACTS ===\n", factsContent)
}
