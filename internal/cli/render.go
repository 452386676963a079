package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.yaml.in/yaml/v3"

	"storyweaver/internal/model"
	"storyweaver/internal/store"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	sectionStyle = lipgloss.NewStyle().PaddingLeft(2)
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// checkFormat rejects an unknown --format value before any work is done.
func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func section(w io.Writer, label string, f *model.Field) {
	if f == nil {
		return
	}
	fmt.Fprintln(w, labelStyle.Render(label))
	if f.Failed() {
		fmt.Fprintln(w, sectionStyle.Render(errorStyle.Render(f.String())))
	} else {
		fmt.Fprintln(w, sectionStyle.Render(f.String()))
	}
	fmt.Fprintln(w)
}

func renderState(w io.Writer, st *model.StoryState) {
	fmt.Fprintln(w, titleStyle.Render(store.Title(st.Prompt)))
	fmt.Fprintln(w, detailStyle.Render("run "+st.RunID))
	fmt.Fprintln(w)

	section(w, "Ideas", st.Ideas)
	section(w, "Setting", st.Setting)
	section(w, "Characters", st.Characters)
	section(w, "Conflict", st.Conflict)
	section(w, "Resolution", st.Resolution)
	section(w, "Story", st.Story)

	switch {
	case st.NotionPageID != "":
		fmt.Fprintln(w, labelStyle.Render("Saved")+" "+st.NotionPageID)
	case st.PersistError != "":
		fmt.Fprintln(w, errorStyle.Render("Not saved")+" "+st.PersistError)
	default:
		fmt.Fprintln(w, warnStyle.Render("Not saved (persistence disabled)"))
	}
}

func renderRecords(w io.Writer, recs []store.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, warnStyle.Render("No stories found"))
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, titleStyle.Render(r.Title), detailStyle.Render("["+string(r.Status)+"]"))
		fmt.Fprintf(w, "   ID: %s\n", r.ID)
		if !r.CreatedAt.IsZero() {
			fmt.Fprintf(w, "   Created: %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
	}
}

func renderRecord(w io.Writer, r *store.Record) {
	fmt.Fprintln(w, titleStyle.Render(r.Title))
	meta := []string{"ID: " + r.ID, "Status: " + string(r.Status)}
	if r.URL != "" {
		meta = append(meta, "URL: "+r.URL)
	}
	fmt.Fprintln(w, detailStyle.Render(strings.Join(meta, "  ")))
	fmt.Fprintln(w)

	for _, s := range []struct{ label, text string }{
		{"Setting", r.Setting},
		{"Characters", r.Characters},
		{"Conflict", r.Conflict},
		{"Resolution", r.Resolution},
		{"Generated Ideas", r.Ideas},
		{"Complete Story", r.Story},
	} {
		if s.text == "" {
			continue
		}
		fmt.Fprintln(w, labelStyle.Render(s.label))
		fmt.Fprintln(w, sectionStyle.Render(s.text))
		fmt.Fprintln(w)
	}
}
