package organizer

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// FileListPlaceholder is replaced by the serialized inventory in the
// organization prompt.
const FileListPlaceholder = "{{FILE_LIST}}"

var (
	//go:embed prompts/system.md
	defaultSystemPrompt string

	//go:embed prompts/organize.md
	defaultOrganizePrompt string
)

type Prompts struct {
	System   string
	Organize string
}

func DefaultPrompts() Prompts {
	return Prompts{
		System:   strings.TrimSpace(defaultSystemPrompt),
		Organize: strings.TrimSpace(defaultOrganizePrompt),
	}
}

// LoadPrompts reads the prompt files named by the config, falling back to the
// built-in prompts for any that are unset.
func LoadPrompts(config *Config) (Prompts, error) {
	prompts := DefaultPrompts()

	load := func(path string, dst *string) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prompt: %w", err)
		}
		*dst = strings.TrimSpace(string(data))
		return nil
	}

	if err := load(config.SystemPromptFile, &prompts.System); err != nil {
		return Prompts{}, err
	}
	if err := load(config.OrganizePromptFile, &prompts.Organize); err != nil {
		return Prompts{}, err
	}
	return prompts, nil
}

type PlanRequest struct {
	System    string `json:"system"`
	Organize  string `json:"organize"`
	Inventory string `json:"inventory"`
	User      string `json:"user"`
}

// BuildPlanRequest combines an inventory with the prompts. It performs no I/O
// and yields the same request for the same inputs.
func BuildPlanRequest(inv *Inventory, systemPrompt, organizePrompt string) (PlanRequest, error) {
	if inv.Len() == 0 {
		root := ""
		if inv != nil {
			root = inv.Root
		}
		return PlanRequest{}, &EmptyInventoryError{Root: root}
	}

	listing := SerializeInventory(inv)

	var user string
	if strings.Contains(organizePrompt, FileListPlaceholder) {
		user = strings.ReplaceAll(organizePrompt, FileListPlaceholder, listing)
	} else {
		user = organizePrompt + "\n\n" + listing
	}

	return PlanRequest{
		System:    systemPrompt,
		Organize:  organizePrompt,
		Inventory: listing,
		User:      user,
	}, nil
}

// SerializeInventory renders one line per entry: path, size and UTC
// modification time separated by tabs.
func SerializeInventory(inv *Inventory) string {
	var b strings.Builder
	for i, e := range inv.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\t%d bytes\t%s", e.Path, e.Size, e.Modified.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Payload is the provider-agnostic request body.
func (r PlanRequest) Payload() []byte {
	// Marshaling a struct of strings cannot fail.
	data, _ := json.MarshalIndent(struct {
		System string `json:"system"`
		User   string `json:"user"`
	}{System: r.System, User: r.User}, "", "  ")
	return data
}

// Fingerprint identifies a request for replay and auditing.
func (r PlanRequest) Fingerprint() string {
	sum := blake3.Sum256(r.Payload())
	return hex.EncodeToString(sum[:])
}
