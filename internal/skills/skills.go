// Package skills loads human-readable skill files (Markdown with YAML
// frontmatter) from a workspace's skills/ directory and a global skills
// directory, and builds the compact summary injected into a turn's system
// prompt as the SKILLS_INDEX context-pack section.
package skills

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Skill is one loaded skill file.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Risk        string   `yaml:"risk"` // "low", "medium", "high" — informational, doesn't gate execution
	Tools       []string `yaml:"tools"`
	Path        string   `yaml:"-"` // absolute path to the source file
	Body        string   `yaml:"-"` // markdown body following the frontmatter
	Global      bool     `yaml:"-"` // loaded from the global dir rather than the workspace
}

// Loader scans a workspace skills directory and a global skills directory,
// caching the result until Reload is called.
type Loader struct {
	workspaceDir string
	globalDir    string
	extraDir     string // optional third directory, e.g. a DB-synced cache

	mu     sync.RWMutex
	skills []Skill
}

// NewLoader creates a loader rooted at workspaceDir/skills and globalDir.
// extraDir, if non-empty, is scanned as a third source (lowest precedence).
func NewLoader(workspaceDir, globalDir, extraDir string) *Loader {
	l := &Loader{
		workspaceDir: workspaceDir,
		globalDir:    globalDir,
		extraDir:     extraDir,
	}
	l.Reload()
	return l
}

// Reload rescans all configured directories, replacing the cached skill set.
func (l *Loader) Reload() {
	var all []Skill
	seen := make(map[string]bool)

	if l.workspaceDir != "" {
		for _, s := range scanDir(filepath.Join(l.workspaceDir, "skills"), false) {
			if !seen[s.Name] {
				seen[s.Name] = true
				all = append(all, s)
			}
		}
	}
	if l.globalDir != "" {
		for _, s := range scanDir(l.globalDir, true) {
			if !seen[s.Name] {
				seen[s.Name] = true
				all = append(all, s)
			}
		}
	}
	if l.extraDir != "" {
		for _, s := range scanDir(l.extraDir, true) {
			if !seen[s.Name] {
				seen[s.Name] = true
				all = append(all, s)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	l.mu.Lock()
	l.skills = all
	l.mu.Unlock()
}

func scanDir(dir string, global bool) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Skill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := loadSkillFile(path)
		if err != nil {
			continue
		}
		s.Global = global
		if s.Name == "" {
			s.Name = strings.TrimSuffix(e.Name(), ".md")
		}
		out = append(out, s)
	}
	return out
}

func loadSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	fm, body := splitFrontmatter(string(data))
	var s Skill
	if fm != "" {
		if err := yaml.Unmarshal([]byte(fm), &s); err != nil {
			return Skill{}, fmt.Errorf("skills: parse frontmatter in %s: %w", path, err)
		}
	}
	s.Path = path
	s.Body = strings.TrimSpace(body)
	if s.Description == "" {
		s.Description = firstLine(s.Body)
	}
	return s, nil
}

func splitFrontmatter(content string) (frontmatter, body string) {
	const delim = "---"
	if !strings.HasPrefix(content, delim) {
		return "", content
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var fm strings.Builder
	var sawFirst bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == delim {
			if !sawFirst {
				sawFirst = true
				continue
			}
			rest := content[len(fm.String())+len(delim)*2+2:]
			return fm.String(), rest
		}
		if sawFirst {
			fm.WriteString(line)
			fm.WriteString("\n")
		}
	}
	return "", content
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// FilterSkills returns the loaded skills allowed by allowList. A nil
// allowList allows every skill; an empty non-nil slice allows none.
func (l *Loader) FilterSkills(allowList []string) []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if allowList == nil {
		out := make([]Skill, len(l.skills))
		copy(out, l.skills)
		return out
	}
	if len(allowList) == 0 {
		return nil
	}
	allow := make(map[string]bool, len(allowList))
	for _, n := range allowList {
		allow[n] = true
	}
	var out []Skill
	for _, s := range l.skills {
		if allow[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// BuildSummary renders the skills allowed by allowList as the compact XML
// block inlined into the system prompt.
func (l *Loader) BuildSummary(allowList []string) string {
	filtered := l.FilterSkills(allowList)
	if len(filtered) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, s := range filtered {
		fmt.Fprintf(&b, "  <skill name=%q risk=%q>%s</skill>\n", s.Name, orDefault(s.Risk, "low"), s.Description)
	}
	b.WriteString("</available_skills>")
	return b.String()
}

// ListSkills returns every currently loaded skill, regardless of allow-list.
func (l *Loader) ListSkills() []Skill {
	return l.FilterSkills(nil)
}

// Get returns the skill named name, if loaded.
func (l *Loader) Get(name string) (Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.skills {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
