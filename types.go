package organizer

import (
	"path"
	"time"
)

type FileEntry struct {
	Path      string    `json:"path" yaml:"path"`
	Size      int64     `json:"size" yaml:"size"`
	Modified  time.Time `json:"modified" yaml:"modified"`
	Extension string    `json:"extension" yaml:"extension"`
}

type Inventory struct {
	Root     string      `json:"root"`
	Entries  []FileEntry `json:"entries"`
	Warnings []string    `json:"warnings,omitempty"`
}

func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.Entries)
}

// Index maps each entry path to its position in the inventory.
func (inv *Inventory) Index() map[string]int {
	idx := make(map[string]int, len(inv.Entries))
	for i, e := range inv.Entries {
		idx[e.Path] = i
	}
	return idx
}

type MoveInstruction struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

type SkippedInstruction struct {
	Instruction MoveInstruction `json:"instruction" yaml:"instruction"`
	Reason      string          `json:"reason" yaml:"reason"`
}

type PlanStatus string

const (
	PlanValid    PlanStatus = "valid"
	PlanRejected PlanStatus = "rejected"
)

type Plan struct {
	Moves   []MoveInstruction    `json:"moves"`
	Skipped []SkippedInstruction `json:"skipped,omitempty"`
	NoOps   int                  `json:"no_ops"`
	Status  PlanStatus           `json:"status"`
	Reason  string               `json:"reason,omitempty"`
}

// Invert returns the plan that undoes p: instructions in reverse order with
// source and destination swapped.
func (p *Plan) Invert() *Plan {
	inv := &Plan{Status: p.Status, Moves: make([]MoveInstruction, 0, len(p.Moves))}
	for i := len(p.Moves) - 1; i >= 0; i-- {
		m := p.Moves[i]
		inv.Moves = append(inv.Moves, MoveInstruction{Source: m.Destination, Destination: m.Source})
	}
	return inv
}

type PlanSummary struct {
	Moves   int `json:"moves" yaml:"moves"`
	Skipped int `json:"skipped" yaml:"skipped"`
	NoOps   int `json:"no_ops" yaml:"no_ops"`
}

func (p *Plan) Summary() PlanSummary {
	return PlanSummary{Moves: len(p.Moves), Skipped: len(p.Skipped), NoOps: p.NoOps}
}

// Folders returns the distinct destination folders of the plan, "." for the root.
func (p *Plan) Folders() []string {
	seen := make(map[string]bool)
	var folders []string
	for _, m := range p.Moves {
		dir := path.Dir(m.Destination)
		if !seen[dir] {
			seen[dir] = true
			folders = append(folders, dir)
		}
	}
	return folders
}

type InstructionState string

const (
	StatePending     InstructionState = "pending"
	StateInProgress  InstructionState = "in-progress"
	StateCommitted   InstructionState = "committed"
	StateFailed      InstructionState = "failed"
	StateReversed    InstructionState = "reversed"
	StateUnreached   InstructionState = "unreached"
	StateUnrecovered InstructionState = "UNRECOVERED"
)

type InstructionOutcome struct {
	Instruction MoveInstruction  `json:"instruction"`
	State       InstructionState `json:"state"`
	// Location is the last known relative path of the file.
	Location string `json:"location"`
	Error    string `json:"error,omitempty"`
}

type ApplyResult struct {
	Outcomes []InstructionOutcome `json:"outcomes"`
}

func (r *ApplyResult) Count(state InstructionState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

func (r *ApplyResult) InState(state InstructionState) []InstructionOutcome {
	var out []InstructionOutcome
	for _, o := range r.Outcomes {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out
}
