// Package report writes run artifacts to a timestamped output directory.
package report

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/hivemind/pkg/models"
)

// Artifacts is everything a finished run leaves behind.
type Artifacts struct {
	Report  *models.Report
	Tasks   []*models.Task
	Agents  map[string]*models.Agent
	Results []*models.Result
}

// Writer materializes run artifacts under a base directory. Each run gets
// its own timestamped subdirectory so successive runs never overwrite
// each other.
type Writer struct {
	baseDir string
	now     func() time.Time
}

// NewWriter creates a Writer rooted at baseDir.
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir, now: time.Now}
}

// Write creates the run directory and writes every artifact. It returns
// the directory path. A failure writing a secondary artifact is logged
// but does not fail the run; the report document itself must succeed.
func (w *Writer) Write(a *Artifacts) (string, error) {
	dir := filepath.Join(w.baseDir, runDirName(a.Report.Topic, w.now()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir %s: %w", dir, err)
	}

	if err := writeYAML(filepath.Join(dir, "report.yaml"), a.Report); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(Markdown(a.Report)), 0o644); err != nil {
		return "", fmt.Errorf("writing report.md: %w", err)
	}

	secondary := map[string]any{
		"tasks.yaml":   a.Tasks,
		"agents.yaml":  a.Agents,
		"results.yaml": a.Results,
	}
	for name, doc := range secondary {
		if err := writeYAML(filepath.Join(dir, name), doc); err != nil {
			log.Printf("[report] %v", err)
		}
	}
	return dir, nil
}

// runDirName builds "<topic-slug>_<timestamp>" for the run directory.
func runDirName(topic string, now time.Time) string {
	slug := strings.ToLower(topic)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slug)
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "run"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return fmt.Sprintf("%s_%s", slug, now.Format("20060102_150405"))
}

func writeYAML(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Markdown renders the report as a human-readable document.
func Markdown(r *models.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.Topic)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Completeness: %.0f%% (%d of %d tasks)\n\n",
		r.Completeness*100, r.Stats.Succeeded, r.Stats.TotalTasks)

	if r.Executive != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(r.Executive)
		b.WriteString("\n\n")
	}

	for _, sec := range r.Sections {
		writeSection(&b, sec, 2)
	}

	if len(r.Incomplete) > 0 {
		b.WriteString("## Incomplete Tasks\n\n")
		for _, inc := range r.Incomplete {
			kind := string(inc.ErrorKind)
			if kind == "" {
				kind = "unresolved"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", inc.TaskID, strings.Join(inc.FocusPath, " / "), kind)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Run Stats\n\n")
	fmt.Fprintf(&b, "- Provider calls: %d\n", r.Stats.ProviderCalls)
	fmt.Fprintf(&b, "- Retries: %d\n", r.Stats.Retries)
	fmt.Fprintf(&b, "- Batch splits: %d\n", r.Stats.Splits)
	fmt.Fprintf(&b, "- Tokens used: %d\n", r.Stats.TotalTokens)
	fmt.Fprintf(&b, "- Wall clock: %s\n", r.Stats.WallClock.Round(time.Millisecond))

	return b.String()
}

func writeSection(b *strings.Builder, sec models.FocusSection, depth int) {
	if depth > 6 {
		depth = 6
	}
	fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", depth), sec.Focus)
	if sec.Summary != "" {
		b.WriteString(sec.Summary)
		b.WriteString("\n\n")
	}
	for _, child := range sec.Children {
		writeSection(b, child, depth+1)
	}
}
