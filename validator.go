package organizer

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ReasonSourceNotInInventory = "source not in inventory"
	ReasonSourceAlreadyPlanned = "source already moved by an earlier instruction"
	ReasonEmptyPath            = "empty path"
	ReasonAbsoluteDestination  = "destination must be relative to the target directory"
	ReasonEscapesRoot          = "destination escapes the target directory"
	ReasonDestinationIsRoot    = "destination is the target directory itself"
	ReasonDuplicateDestination = "duplicate destination"
	ReasonDestinationOccupied  = "destination occupied by an existing file"
	ReasonDestinationIsDir     = "destination is an existing directory"
	ReasonParentIsFile         = "destination parent is a file"
	ReasonDestinationConflict  = "destination conflicts with another planned move"
)

var fencedBlockRegex = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

type Validator interface {
	Validate(raw RawResponse, inv *Inventory) (*Plan, error)
}

type DefaultValidator struct{}

func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{}
}

func (v *DefaultValidator) Validate(raw RawResponse, inv *Inventory) (*Plan, error) {
	return ValidatePlan(raw, inv)
}

// ParseProposals extracts the proposed moves from a provider response. JSON and
// YAML are accepted, either as {"moves": [...]} or as a bare list, optionally
// inside a fenced code block.
func ParseProposals(raw RawResponse) ([]MoveInstruction, error) {
	text := strings.TrimSpace(string(raw))
	if match := fencedBlockRegex.FindStringSubmatch(text); len(match) > 1 {
		text = strings.TrimSpace(match[1])
	}
	if text == "" {
		return nil, &PlanValidationError{Reason: "empty provider response"}
	}

	doc, err := decodeDocument(text)
	if err != nil {
		return nil, &PlanValidationError{Reason: fmt.Sprintf("unparseable provider response: %v", err)}
	}

	var items []any
	switch v := doc.(type) {
	case map[string]any:
		moves, ok := v["moves"]
		if !ok {
			return nil, &PlanValidationError{Reason: `provider response has no "moves" list`}
		}
		if moves == nil {
			return []MoveInstruction{}, nil
		}
		if items, ok = moves.([]any); !ok {
			return nil, &PlanValidationError{Reason: `"moves" is not a list`}
		}
	case []any:
		items = v
	default:
		return nil, &PlanValidationError{Reason: "provider response is neither an object nor a list"}
	}

	proposals := make([]MoveInstruction, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &PlanValidationError{Reason: fmt.Sprintf("move %d is not an object", i+1)}
		}
		proposals = append(proposals, MoveInstruction{
			Source:      firstString(m, "source", "from", "src"),
			Destination: firstString(m, "destination", "to", "dest", "dst"),
		})
	}
	return proposals, nil
}

// decodeDocument parses text as JSON, then as YAML. When neither yields a
// plan-shaped document, the first plan-shaped JSON value embedded in the text
// is used, trying object starts before list starts.
func decodeDocument(text string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc, nil
	}

	var yamlDoc any
	yamlErr := yaml.Unmarshal([]byte(text), &yamlDoc)
	if yamlErr == nil && planShaped(yamlDoc) {
		return yamlDoc, nil
	}

	for _, open := range []byte{'{', '['} {
		for i := 0; i < len(text); i++ {
			if text[i] != open {
				continue
			}
			var candidate any
			if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&candidate); err != nil {
				continue
			}
			if planShaped(candidate) {
				return candidate, nil
			}
		}
	}

	if yamlErr != nil {
		return nil, yamlErr
	}
	return yamlDoc, nil
}

// planShaped reports whether doc is an object with a "moves" key or a list of
// objects.
func planShaped(doc any) bool {
	switch v := doc.(type) {
	case map[string]any:
		_, ok := v["moves"]
		return ok
	case []any:
		for _, item := range v {
			if _, ok := item.(map[string]any); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// ValidatePlan turns a provider response into a Plan for inv. Individually
// invalid instructions are dropped into Plan.Skipped; the plan as a whole is
// rejected only when the response cannot be read or nothing in it survives.
func ValidatePlan(raw RawResponse, inv *Inventory) (*Plan, error) {
	proposals, err := ParseProposals(raw)
	if err != nil {
		return &Plan{Status: PlanRejected, Reason: err.Error()}, err
	}
	return validateProposals(proposals, inv)
}

func validateProposals(proposals []MoveInstruction, inv *Inventory) (*Plan, error) {
	plan := &Plan{Moves: []MoveInstruction{}, Status: PlanValid}

	files := inv.Index()
	dirs := make(map[string]bool)
	for _, e := range inv.Entries {
		for _, parent := range parents(e.Path) {
			dirs[parent] = true
		}
	}

	claimedSources := make(map[string]bool)
	seen := make(map[string]bool)
	accepted := make(map[string]bool)
	acceptedDirs := make(map[string]bool)

	skip := func(p MoveInstruction, reason string) {
		plan.Skipped = append(plan.Skipped, SkippedInstruction{Instruction: p, Reason: reason})
	}

	for _, proposal := range proposals {
		source := normalizeSource(proposal.Source)
		if source == "" {
			skip(proposal, ReasonEmptyPath)
			continue
		}
		if _, ok := files[source]; !ok {
			skip(proposal, ReasonSourceNotInInventory)
			continue
		}
		if claimedSources[source] {
			skip(proposal, ReasonSourceAlreadyPlanned)
			continue
		}

		destination, reason := normalizeDestination(proposal.Destination, source)
		if reason != "" {
			skip(proposal, reason)
			continue
		}

		if seen[destination] {
			skip(proposal, ReasonDuplicateDestination)
			continue
		}
		seen[destination] = true

		if source == destination {
			plan.NoOps++
			continue
		}

		if reason := occupancy(destination, files, dirs, accepted, acceptedDirs); reason != "" {
			skip(proposal, reason)
			continue
		}

		claimedSources[source] = true
		accepted[destination] = true
		for _, parent := range parents(destination) {
			acceptedDirs[parent] = true
		}
		plan.Moves = append(plan.Moves, MoveInstruction{Source: source, Destination: destination})
	}

	if len(plan.Moves) == 0 && plan.NoOps == 0 && len(plan.Skipped) > 0 {
		err := &PlanValidationError{Reason: "every proposed move was rejected", Rejected: plan.Skipped}
		plan.Status = PlanRejected
		plan.Reason = err.Reason
		return plan, err
	}
	return plan, nil
}

func normalizeSource(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}

// normalizeDestination cleans a destination and enforces containment. A
// destination ending in a slash names a folder and keeps the source file name.
func normalizeDestination(p, source string) (string, string) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", ReasonEmptyPath
	}
	if strings.ContainsRune(p, 0) {
		return "", ReasonEscapesRoot
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", ReasonAbsoluteDestination
	}
	if strings.HasSuffix(p, "/") {
		p = p + path.Base(source)
	}

	clean := path.Clean(p)
	switch {
	case clean == ".":
		return "", ReasonDestinationIsRoot
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", ReasonEscapesRoot
	}
	return clean, ""
}

func occupancy(destination string, files map[string]int, dirs, accepted, acceptedDirs map[string]bool) string {
	if _, ok := files[destination]; ok {
		return ReasonDestinationOccupied
	}
	if dirs[destination] {
		return ReasonDestinationIsDir
	}
	if acceptedDirs[destination] {
		return ReasonDestinationConflict
	}
	for _, parent := range parents(destination) {
		if _, ok := files[parent]; ok {
			return ReasonParentIsFile
		}
		if accepted[parent] {
			return ReasonDestinationConflict
		}
	}
	return ""
}

// parents returns every ancestor directory of a relative slash path, nearest
// first, excluding the root.
func parents(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		out = append(out, dir)
	}
	return out
}
