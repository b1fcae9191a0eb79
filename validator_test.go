package organizer_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	organizer "github.com/thrawn01/file-organizer"
)

func movesResponse(t *testing.T, moves ...organizer.MoveInstruction) organizer.RawResponse {
	t.Helper()
	data, err := json.Marshal(map[string]any{"moves": moves})
	require.NoError(t, err)
	return organizer.RawResponse(data)
}

func move(source, destination string) organizer.MoveInstruction {
	return organizer.MoveInstruction{Source: source, Destination: destination}
}

func TestValidatePlanContainmentAndDuplicates(t *testing.T) {
	inv := testInventory("report.pdf", "notes.txt", "photo.jpg")
	raw := movesResponse(t,
		move("report.pdf", "Documents/report.pdf"),
		move("notes.txt", "../escape.txt"),
		move("photo.jpg", "Documents/report.pdf"),
	)

	plan, err := organizer.ValidatePlan(raw, inv)
	require.NoError(t, err)

	assert.Equal(t, organizer.PlanValid, plan.Status)
	assert.Equal(t, []organizer.MoveInstruction{move("report.pdf", "Documents/report.pdf")}, plan.Moves)
	require.Len(t, plan.Skipped, 2)
	assert.Equal(t, "notes.txt", plan.Skipped[0].Instruction.Source)
	assert.Equal(t, organizer.ReasonEscapesRoot, plan.Skipped[0].Reason)
	assert.Equal(t, "photo.jpg", plan.Skipped[1].Instruction.Source)
	assert.Equal(t, organizer.ReasonDuplicateDestination, plan.Skipped[1].Reason)
}

func TestValidatePlanRules(t *testing.T) {
	inv := testInventory("a.txt", "b.txt", "docs/c.md", "img/d.png")

	tests := []struct {
		name     string
		proposal organizer.MoveInstruction
		reason   string
		expected *organizer.MoveInstruction
	}{
		{
			name:     "Accepted",
			proposal: move("a.txt", "Text/a.txt"),
			expected: &organizer.MoveInstruction{Source: "a.txt", Destination: "Text/a.txt"},
		},
		{
			name:     "NormalizesPaths",
			proposal: move("./a.txt", `Text\sub/../a.txt`),
			expected: &organizer.MoveInstruction{Source: "a.txt", Destination: "Text/a.txt"},
		},
		{
			name:     "FolderDestinationKeepsName",
			proposal: move("docs/c.md", "Notes/"),
			expected: &organizer.MoveInstruction{Source: "docs/c.md", Destination: "Notes/c.md"},
		},
		{
			name:     "UnknownSource",
			proposal: move("missing.txt", "x.txt"),
			reason:   organizer.ReasonSourceNotInInventory,
		},
		{
			name:     "EmptySource",
			proposal: move("", "x.txt"),
			reason:   organizer.ReasonEmptyPath,
		},
		{
			name:     "EmptyDestination",
			proposal: move("a.txt", "  "),
			reason:   organizer.ReasonEmptyPath,
		},
		{
			name:     "AbsoluteDestination",
			proposal: move("a.txt", "/etc/a.txt"),
			reason:   organizer.ReasonAbsoluteDestination,
		},
		{
			name:     "ParentEscape",
			proposal: move("a.txt", "Text/../../a.txt"),
			reason:   organizer.ReasonEscapesRoot,
		},
		{
			name:     "RootItself",
			proposal: move("a.txt", "Text/.."),
			reason:   organizer.ReasonDestinationIsRoot,
		},
		{
			name:     "OccupiedByScannedFile",
			proposal: move("a.txt", "b.txt"),
			reason:   organizer.ReasonDestinationOccupied,
		},
		{
			name:     "ExistingDirectory",
			proposal: move("a.txt", "docs"),
			reason:   organizer.ReasonDestinationIsDir,
		},
		{
			name:     "ParentIsFile",
			proposal: move("a.txt", "b.txt/a.txt"),
			reason:   organizer.ReasonParentIsFile,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// A second, always valid move keeps the plan from being rejected as a whole.
			raw := movesResponse(t, test.proposal, move("img/d.png", "Images/d.png"))

			plan, err := organizer.ValidatePlan(raw, inv)
			require.NoError(t, err)

			if test.expected != nil {
				require.Len(t, plan.Moves, 2)
				assert.Equal(t, *test.expected, plan.Moves[0])
				assert.Empty(t, plan.Skipped)
				return
			}
			require.Len(t, plan.Skipped, 1)
			assert.Equal(t, test.reason, plan.Skipped[0].Reason)
			assert.Equal(t, test.proposal, plan.Skipped[0].Instruction)
			assert.Equal(t, []organizer.MoveInstruction{move("img/d.png", "Images/d.png")}, plan.Moves)
		})
	}
}

func TestValidatePlanConflicts(t *testing.T) {
	inv := testInventory("a.txt", "b.txt", "c.txt")

	t.Run("SourceMovedTwice", func(t *testing.T) {
		plan, err := organizer.ValidatePlan(movesResponse(t, move("a.txt", "X/a.txt"), move("a.txt", "Y/a.txt")), inv)
		require.NoError(t, err)
		assert.Len(t, plan.Moves, 1)
		require.Len(t, plan.Skipped, 1)
		assert.Equal(t, organizer.ReasonSourceAlreadyPlanned, plan.Skipped[0].Reason)
	})

	t.Run("FileWherePlannedFolderGoes", func(t *testing.T) {
		plan, err := organizer.ValidatePlan(movesResponse(t, move("a.txt", "X/a.txt"), move("b.txt", "X")), inv)
		require.NoError(t, err)
		assert.Len(t, plan.Moves, 1)
		require.Len(t, plan.Skipped, 1)
		assert.Equal(t, organizer.ReasonDestinationConflict, plan.Skipped[0].Reason)
	})

	t.Run("FolderWherePlannedFileGoes", func(t *testing.T) {
		plan, err := organizer.ValidatePlan(movesResponse(t, move("a.txt", "X"), move("b.txt", "X/b.txt")), inv)
		require.NoError(t, err)
		assert.Len(t, plan.Moves, 1)
		require.Len(t, plan.Skipped, 1)
		assert.Equal(t, organizer.ReasonDestinationConflict, plan.Skipped[0].Reason)
	})

	t.Run("RejectedMoveDoesNotBlockLaterOnes", func(t *testing.T) {
		plan, err := organizer.ValidatePlan(movesResponse(t, move("missing", "X"), move("b.txt", "X/b.txt")), inv)
		require.NoError(t, err)
		assert.Equal(t, []organizer.MoveInstruction{move("b.txt", "X/b.txt")}, plan.Moves)
	})
}

func TestValidatePlanElidesNoOps(t *testing.T) {
	inv := testInventory("a.txt", "docs/b.md")
	raw := movesResponse(t, move("a.txt", "a.txt"), move("docs/b.md", "./docs/b.md"), move("a.txt", "Text/a.txt"))

	plan, err := organizer.ValidatePlan(raw, inv)
	require.NoError(t, err)

	assert.Equal(t, 2, plan.NoOps)
	assert.Equal(t, []organizer.MoveInstruction{move("a.txt", "Text/a.txt")}, plan.Moves)
	assert.Equal(t, organizer.PlanSummary{Moves: 1, Skipped: 0, NoOps: 2}, plan.Summary())
}

func TestValidatePlanResponseFormats(t *testing.T) {
	inv := testInventory("a.txt")
	expected := []organizer.MoveInstruction{move("a.txt", "Text/a.txt")}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "Object", raw: `{"moves":[{"source":"a.txt","destination":"Text/a.txt"}]}`},
		{name: "BareList", raw: `[{"source":"a.txt","destination":"Text/a.txt"}]`},
		{name: "Aliases", raw: `[{"from":"a.txt","to":"Text/a.txt"}]`},
		{name: "Fenced", raw: "Here is the plan:\n```json\n{\"moves\":[{\"source\":\"a.txt\",\"destination\":\"Text/a.txt\"}]}\n```\n"},
		{name: "Prose", raw: `Sure! {"moves":[{"source":"a.txt","destination":"Text/a.txt"}]} Let me know.`},
		{name: "YAML", raw: "moves:\n  - source: a.txt\n    destination: Text/a.txt\n"},
		{name: "PlanFile", raw: "run_id: 1234\nprovider: heuristic\nmoves:\n  - source: a.txt\n    destination: Text/a.txt\nsummary:\n  moves: 1\n"},
		{name: "BracketedProse", raw: `Plan [v1]: {"moves":[{"source":"a.txt","destination":"Text/a.txt"}]}`},
		{name: "ListAfterBracketedNote", raw: `Moves [1 total]: [{"source":"a.txt","destination":"Text/a.txt"}]`},
		{name: "ObjectBeforeStrayBrackets", raw: `{"moves":[{"source":"a.txt","destination":"Text/a.txt"}]} [done]`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			plan, err := organizer.ValidatePlan(organizer.RawResponse(test.raw), inv)
			require.NoError(t, err)
			assert.Equal(t, expected, plan.Moves)
		})
	}
}

func TestValidatePlanBracketedFileNames(t *testing.T) {
	inv := testInventory("scan [2024].pdf", "notes.txt")
	raw := "run_id: 1234\nmoves:\n  - source: scan [2024].pdf\n    destination: Documents/scan.pdf\n" +
		"  - source: notes.txt\n    destination: Documents/notes.txt\n"

	plan, err := organizer.ValidatePlan(organizer.RawResponse(raw), inv)
	require.NoError(t, err)
	assert.Equal(t, []organizer.MoveInstruction{
		move("scan [2024].pdf", "Documents/scan.pdf"),
		move("notes.txt", "Documents/notes.txt"),
	}, plan.Moves)
}

func TestValidatePlanRejectsWholePlan(t *testing.T) {
	inv := testInventory("a.txt", "b.txt")

	tests := []struct {
		name     string
		raw      string
		rejected int
	}{
		{name: "Empty", raw: "   "},
		{name: "NotStructured", raw: "I could not decide: {oops"},
		{name: "MissingMovesKey", raw: `{"plan": []}`},
		{name: "MovesNotAList", raw: `{"moves": "a.txt"}`},
		{name: "ScalarDocument", raw: `42`},
		{name: "EntryNotObject", raw: `{"moves": ["a.txt"]}`},
		{name: "EverythingRejected", raw: `{"moves":[{"source":"a.txt","destination":"../a.txt"},{"source":"zzz","destination":"b"}]}`, rejected: 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			plan, err := organizer.ValidatePlan(organizer.RawResponse(test.raw), inv)

			var invalid *organizer.PlanValidationError
			require.True(t, errors.As(err, &invalid))
			assert.Len(t, invalid.Rejected, test.rejected)
			require.NotNil(t, plan)
			assert.Equal(t, organizer.PlanRejected, plan.Status)
			assert.NotEmpty(t, plan.Reason)
		})
	}
}

func TestValidatePlanEmptyProposal(t *testing.T) {
	plan, err := organizer.ValidatePlan(`{"moves": []}`, testInventory("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, organizer.PlanValid, plan.Status)
	assert.Empty(t, plan.Moves)
}

func TestValidatePlanAdversarialResponses(t *testing.T) {
	inv := testInventory("a.txt", "b.pdf", "docs/c.md", "docs/deep/d.png", "e", "img/f.jpg")
	sources := append(entryPaths(inv), "missing.txt", "", "../a.txt", "/abs/a.txt")
	fragments := []string{"..", ".", "Docs", "Docs", "a.txt", "docs", "img", "x", "", "/", "b.pdf", "deep"}

	rng := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 500; iteration++ {
		var proposals []organizer.MoveInstruction
		for n := rng.Intn(12); n >= 0; n-- {
			parts := make([]string, 1+rng.Intn(4))
			for i := range parts {
				parts[i] = fragments[rng.Intn(len(fragments))]
			}
			destination := strings.Join(parts, "/")
			if rng.Intn(5) == 0 {
				destination = "/" + destination
			}
			proposals = append(proposals, move(sources[rng.Intn(len(sources))], destination))
		}

		raw := movesResponse(t, proposals...)
		plan, err := organizer.ValidatePlan(raw, inv)
		again, againErr := organizer.ValidatePlan(raw, inv)
		require.Equal(t, plan, again, "iteration %d", iteration)
		require.Equal(t, err == nil, againErr == nil)
		if err != nil {
			continue
		}

		index := inv.Index()
		destinations := make(map[string]bool)
		sourcesSeen := make(map[string]bool)
		for _, m := range plan.Moves {
			msg := fmt.Sprintf("iteration %d: %s -> %s", iteration, m.Source, m.Destination)

			_, known := index[m.Source]
			assert.True(t, known, msg)
			assert.NotEqual(t, m.Source, m.Destination, msg)
			assert.False(t, destinations[m.Destination], msg)
			assert.False(t, sourcesSeen[m.Source], msg)
			assert.False(t, path.IsAbs(m.Destination), msg)
			assert.Equal(t, path.Clean(m.Destination), m.Destination, msg)
			assert.NotEqual(t, ".", m.Destination, msg)
			assert.False(t, m.Destination == ".." || strings.HasPrefix(m.Destination, "../"), msg)

			destinations[m.Destination] = true
			sourcesSeen[m.Source] = true
		}
		assert.Equal(t, len(proposals), len(plan.Moves)+len(plan.Skipped)+plan.NoOps)
	}
}
