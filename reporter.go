package organizer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	folderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	moveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("197"))
)

// WritePlanReport renders a dry run: moves grouped by destination folder,
// then the skipped instructions, then the summary.
func WritePlanReport(w io.Writer, plan *Plan) error {
	var b strings.Builder

	if len(plan.Moves) == 0 {
		b.WriteString(headerStyle.Render("No moves proposed.") + "\n")
	} else {
		b.WriteString(headerStyle.Render("Proposed moves:") + "\n")

		byFolder := make(map[string][]MoveInstruction)
		for _, m := range plan.Moves {
			dir := path.Dir(m.Destination)
			byFolder[dir] = append(byFolder[dir], m)
		}
		folders := plan.Folders()
		sort.Strings(folders)

		for _, folder := range folders {
			label := folder + "/"
			if folder == "." {
				label = "./"
			}
			b.WriteString("\n" + folderStyle.Render(label) + "\n")
			for _, m := range byFolder[folder] {
				fmt.Fprintf(&b, "  %s → %s\n", m.Source, moveStyle.Render(m.Destination))
			}
		}
	}

	if len(plan.Skipped) > 0 {
		b.WriteString("\n" + skippedStyle.Render("Skipped:") + "\n")
		for _, s := range plan.Skipped {
			fmt.Fprintf(&b, "  %s → %s (%s)\n", displayPath(s.Instruction.Source),
				displayPath(s.Instruction.Destination), s.Reason)
		}
	}

	summary := plan.Summary()
	fmt.Fprintf(&b, "\n%s\n", successStyle.Render(fmt.Sprintf("Summary: %d moves, %d skipped, %d no-ops",
		summary.Moves, summary.Skipped, summary.NoOps)))

	_, err := io.WriteString(w, b.String())
	return err
}

func displayPath(p string) string {
	if p == "" {
		return `""`
	}
	return p
}

type PlanReport struct {
	RunID       string      `json:"run_id"`
	Root        string      `json:"root"`
	Provider    string      `json:"provider"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Plan        *Plan       `json:"plan"`
	Summary     PlanSummary `json:"summary"`
	Warnings    []string    `json:"warnings,omitempty"`
}

func NewPlanReport(run *Run) PlanReport {
	report := PlanReport{
		RunID:       run.ID,
		Root:        run.Root,
		Provider:    run.Provider,
		Fingerprint: run.Fingerprint,
		Plan:        run.Plan,
		Summary:     run.Plan.Summary(),
	}
	if run.Inventory != nil {
		report.Warnings = run.Inventory.Warnings
	}
	return report
}

func WritePlanJSON(w io.Writer, run *Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewPlanReport(run))
}

// AuditRecord is the plan file written by --plan-out. Its moves list uses the
// response format, so the file can be fed back through --plan-in.
type AuditRecord struct {
	RunID       string               `yaml:"run_id"`
	Timestamp   time.Time            `yaml:"timestamp"`
	Root        string               `yaml:"root"`
	Provider    string               `yaml:"provider"`
	Fingerprint string               `yaml:"fingerprint,omitempty"`
	Moves       []MoveInstruction    `yaml:"moves"`
	Skipped     []SkippedInstruction `yaml:"skipped,omitempty"`
	Summary     PlanSummary          `yaml:"summary"`
}

func NewAuditRecord(run *Run) AuditRecord {
	moves := run.Plan.Moves
	if moves == nil {
		moves = []MoveInstruction{}
	}
	return AuditRecord{
		RunID:       run.ID,
		Timestamp:   run.Started.UTC(),
		Root:        run.Root,
		Provider:    run.Provider,
		Fingerprint: run.Fingerprint,
		Moves:       moves,
		Skipped:     run.Plan.Skipped,
		Summary:     run.Plan.Summary(),
	}
}

func WriteAuditFile(filePath string, run *Run) error {
	data, err := yaml.Marshal(NewAuditRecord(run))
	if err != nil {
		return fmt.Errorf("failed to encode plan file: %w", err)
	}
	if err := os.WriteFile(filePath, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

const DefaultFilePermissions = 0o644

// WriteApplyReport renders the outcome of an apply. Files left in an
// unexpected place are listed in a separate block on errw.
func WriteApplyReport(w, errw io.Writer, result *ApplyResult) error {
	var b strings.Builder

	committed := result.Count(StateCommitted)
	if committed == len(result.Outcomes) {
		b.WriteString(successStyle.Render(fmt.Sprintf("Applied %d moves.", committed)) + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	heading := "Apply halted; committed moves were reversed."
	if unrecovered := result.Count(StateUnrecovered); unrecovered > 0 {
		heading = fmt.Sprintf("Apply halted; %d committed moves could not be reversed.", unrecovered)
	}
	b.WriteString(headerStyle.Render(heading) + "\n")
	for _, state := range []InstructionState{StateFailed, StateReversed, StateCommitted, StateUnreached} {
		outcomes := result.InState(state)
		if len(outcomes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", folderStyle.Render(fmt.Sprintf("%s (%d):", state, len(outcomes))))
		for _, o := range outcomes {
			fmt.Fprintf(&b, "  %s → %s", o.Instruction.Source, o.Instruction.Destination)
			if o.Error != "" {
				fmt.Fprintf(&b, ": %s", o.Error)
			}
			b.WriteByte('\n')
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	return WriteUnrecovered(errw, result)
}

// WriteUnrecovered lists files whose rollback failed, with where they are now.
func WriteUnrecovered(w io.Writer, result *ApplyResult) error {
	outcomes := result.InState(StateUnrecovered)
	if len(outcomes) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(errorStyle.Render(fmt.Sprintf("UNRECOVERED: %d files need manual attention", len(outcomes))) + "\n")
	for _, o := range outcomes {
		fmt.Fprintf(&b, "  %s (originally %s): %s\n", o.Location, o.Instruction.Source, o.Error)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
