package organizer

import (
	"context"
	"encoding/json"
	"path"
	"strings"
)

var extensionGroups = map[string][]string{
	"Documents":     {".pdf", ".doc", ".docx", ".txt", ".md", ".rtf", ".odt", ".pages", ".epub", ".tex"},
	"Spreadsheets":  {".xls", ".xlsx", ".csv", ".tsv", ".ods", ".numbers"},
	"Presentations": {".ppt", ".pptx", ".odp", ".key"},
	"Images":        {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".heic", ".tif", ".tiff", ".raw"},
	"Audio":         {".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a"},
	"Video":         {".mp4", ".mov", ".avi", ".mkv", ".webm", ".wmv"},
	"Archives":      {".zip", ".tar", ".gz", ".tgz", ".bz2", ".xz", ".7z", ".rar"},
	"Code":          {".go", ".py", ".js", ".ts", ".java", ".c", ".h", ".cpp", ".rs", ".rb", ".sh", ".json", ".yaml", ".yml", ".html", ".css"},
}

const otherGroup = "Other"

// HeuristicProvider groups files into top-level folders by extension. It
// answers in the same format the remote providers are asked for, without any
// network access.
type HeuristicProvider struct {
	groups map[string]string
}

func NewHeuristicProvider() *HeuristicProvider {
	groups := make(map[string]string)
	for folder, exts := range extensionGroups {
		for _, ext := range exts {
			groups[ext] = folder
		}
	}
	return &HeuristicProvider{groups: groups}
}

func (h *HeuristicProvider) Name() string { return ProviderHeuristic }

func (h *HeuristicProvider) Group(extension string) string {
	if g, ok := h.groups[strings.ToLower(extension)]; ok {
		return g
	}
	return otherGroup
}

func (h *HeuristicProvider) Send(ctx context.Context, req PlanRequest) (RawResponse, error) {
	moves := []MoveInstruction{}
	for _, line := range strings.Split(req.Inventory, "\n") {
		if ctx.Err() != nil {
			return "", &ProviderUnavailableError{Provider: h.Name(), Err: ctx.Err()}
		}
		source, _, _ := strings.Cut(line, "\t")
		if source == "" {
			continue
		}
		moves = append(moves, MoveInstruction{
			Source:      source,
			Destination: path.Join(h.Group(path.Ext(source)), path.Base(source)),
		})
	}

	data, err := json.Marshal(struct {
		Moves []MoveInstruction `json:"moves"`
	}{Moves: moves})
	if err != nil {
		return "", &ProviderUnavailableError{Provider: h.Name(), Err: err}
	}
	return RawResponse(data), nil
}
