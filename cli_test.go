package organizer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	organizer "github.com/thrawn01/file-organizer"
)

type cliRun struct {
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	clipboard string
}

func runCLI(t *testing.T, stdin string, env map[string]string, args ...string) (*cliRun, error) {
	t.Helper()
	run := &cliRun{}
	err := organizer.RunCmd(append([]string{"organize"}, args...), &organizer.RunCmdOptions{
		Stdin:     strings.NewReader(stdin),
		Stdout:    &run.stdout,
		Stderr:    &run.stderr,
		LookupEnv: envFrom(env),
		Clipboard: func(text string) error {
			run.clipboard = text
			return nil
		},
	})
	return run, err
}

func TestCLIDryRun(t *testing.T) {
	root := tempRoot(t, map[string]string{"report.pdf": "r", "photo.jpg": "p"})
	before := snapshot(t, root)

	run, err := runCLI(t, "", nil, root, "--local")
	require.NoError(t, err)

	assert.Contains(t, run.stdout.String(), "report.pdf → Documents/report.pdf")
	assert.Contains(t, run.stdout.String(), "photo.jpg → Images/photo.jpg")
	assert.Contains(t, run.stdout.String(), "Summary: 2 moves, 0 skipped, 0 no-ops")
	assert.Equal(t, before, snapshot(t, root))
}

func TestCLIJSON(t *testing.T) {
	root := tempRoot(t, map[string]string{"report.pdf": "r"})

	run, err := runCLI(t, "", map[string]string{"MODEL_PROVIDER": "heuristic"}, root, "--json")
	require.NoError(t, err)

	var report organizer.PlanReport
	require.NoError(t, json.Unmarshal(run.stdout.Bytes(), &report))
	assert.Equal(t, organizer.ProviderHeuristic, report.Provider)
	assert.Equal(t, 1, report.Summary.Moves)
	assert.NotEmpty(t, report.RunID)
}

func TestCLIShowPromptWithoutCredentials(t *testing.T) {
	root := tempRoot(t, map[string]string{"report.pdf": "r"})

	run, err := runCLI(t, "", nil, root, "--show-prompt", "--copy")
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(run.stdout.Bytes(), &payload))
	assert.Contains(t, payload["user"], "report.pdf\t1 bytes\t")
	assert.NotEmpty(t, payload["system"])
	assert.Equal(t, strings.TrimSpace(run.stdout.String()), run.clipboard)
}

func TestCLIShowPromptCustomPrompts(t *testing.T) {
	root := tempRoot(t, map[string]string{"report.pdf": "r"})
	promptDir := t.TempDir()
	organizePrompt := filepath.Join(promptDir, "organize.md")
	require.NoError(t, os.WriteFile(organizePrompt, []byte("Sort these:\n{{FILE_LIST}}"), 0644))

	run, err := runCLI(t, "", nil, root, "--show-prompt", "--organize-prompt", organizePrompt)
	require.NoError(t, err)
	assert.Contains(t, run.stdout.String(), `Sort these:\nreport.pdf`)
}

func TestCLIApply(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		moved bool
	}{
		{name: "Declined", stdin: "n\n", args: []string{"--apply"}},
		{name: "NoAnswer", stdin: "", args: []string{"--apply"}},
		{name: "Confirmed", stdin: "y\n", args: []string{"--apply"}, moved: true},
		{name: "Yes", args: []string{"--apply", "--yes"}, moved: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := tempRoot(t, map[string]string{"report.pdf": "r", "photo.jpg": "p"})
			before := snapshot(t, root)

			args := append([]string{root, "--local"}, test.args...)
			run, err := runCLI(t, test.stdin, nil, args...)
			require.NoError(t, err)

			if !test.moved {
				assert.Contains(t, run.stdout.String(), "Apply 2 moves? [y/N]")
				assert.Contains(t, run.stdout.String(), "no files were moved")
				assert.Equal(t, before, snapshot(t, root))
				return
			}
			assert.Contains(t, run.stdout.String(), "Applied 2 moves.")
			assert.FileExists(t, filepath.Join(root, "Documents", "report.pdf"))
			assert.FileExists(t, filepath.Join(root, "Images", "photo.jpg"))
		})
	}
}

func TestCLIPlanFileRoundTrip(t *testing.T) {
	root := tempRoot(t, map[string]string{"report.pdf": "r", "photo.jpg": "p", "scan [2024].pdf": "s"})
	planFile := filepath.Join(t.TempDir(), "plan.yaml")

	_, err := runCLI(t, "", nil, root, "--local", "--plan-out", planFile)
	require.NoError(t, err)
	assert.FileExists(t, planFile)
	assert.FileExists(t, filepath.Join(root, "report.pdf"))

	// No credentials are needed to apply a saved plan.
	run, err := runCLI(t, "", nil, root, "--plan-in", planFile, "--apply", "--yes")
	require.NoError(t, err)
	assert.Contains(t, run.stdout.String(), "Applied 3 moves.")
	assert.FileExists(t, filepath.Join(root, "Documents", "report.pdf"))
	assert.FileExists(t, filepath.Join(root, "Documents", "scan [2024].pdf"))
}

func TestCLIPlanFileEmptyDirectory(t *testing.T) {
	empty := tempRoot(t, nil)
	planFile := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(planFile, []byte(`{"moves":[{"source":"a.txt","destination":"A/a.txt"}]}`), 0644))

	_, err := runCLI(t, "", nil, empty, "--plan-in", planFile, "--apply", "--yes")
	var emptyErr *organizer.EmptyInventoryError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, empty, emptyErr.Root)
	assert.Equal(t, organizer.ExitError, organizer.ExitCode(err))
}

func TestCLIRollbackExitCode(t *testing.T) {
	root := tempRoot(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	require.NoError(t, os.Symlink(t.TempDir(), filepath.Join(root, "Out")))

	planFile := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(planFile, []byte(`{"moves":[
		{"source":"a.txt","destination":"A/a.txt"},
		{"source":"b.txt","destination":"Out/b.txt"}]}`), 0644))

	run, err := runCLI(t, "", nil, root, "--plan-in", planFile, "--apply", "--yes")
	var partial *organizer.PartialApplyError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, organizer.ExitRolledBack, organizer.ExitCode(err))
	assert.Contains(t, run.stdout.String(), "reversed (1):")
	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.NoDirExists(t, filepath.Join(root, "A"))
}

func TestCLIErrors(t *testing.T) {
	empty := tempRoot(t, nil)
	populated := tempRoot(t, map[string]string{"a.txt": "a"})

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "MissingDirectory", args: []string{filepath.Join(empty, "missing"), "--local"}, contains: "directory not found"},
		{name: "EmptyDirectory", args: []string{empty}, contains: "nothing to organize"},
		{name: "MissingCredentials", args: []string{populated}, contains: "OPENAI_API_KEY is required"},
		{name: "UnknownLogLevel", args: []string{populated, "--local", "--log-level", "loud"}, contains: "unknown log level"},
		{name: "TooManyArgs", args: []string{populated, populated}, contains: "accepts at most 1 arg"},
		{name: "UnknownFlag", args: []string{populated, "--bogus"}, contains: "unknown flag"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := runCLI(t, "", nil, test.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.contains)
			assert.Equal(t, organizer.ExitError, organizer.ExitCode(err))
		})
	}
}

func TestCLIHelp(t *testing.T) {
	for _, args := range [][]string{{}, {"--help"}} {
		run, err := runCLI(t, "", nil, args...)
		require.NoError(t, err)
		assert.Contains(t, run.stdout.String(), "organize <target-directory>")
	}
}

func TestMCPServerCapabilities(t *testing.T) {
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	go func() {
		_ = organizer.RunCmd([]string{"organize", "--mcp"}, &organizer.RunCmdOptions{
			MCPTransport: serverTransport,
			LookupEnv:    envFrom(map[string]string{"MODEL_PROVIDER": "heuristic"}),
			Stderr:       &bytes.Buffer{},
		})
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() {
		_ = session.Close()
	}()

	require.NoError(t, session.Ping(ctx, nil))

	t.Run("ToolDiscovery", func(t *testing.T) {
		tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
		require.NoError(t, err)

		var names []string
		for _, tool := range tools.Tools {
			names = append(names, tool.Name)
			assert.NotEmpty(t, tool.Description)
		}
		assert.ElementsMatch(t, []string{"scan_directory", "show_prompt", "plan_organization", "apply_organization"}, names)
	})

	t.Run("PlanDoesNotMoveFiles", func(t *testing.T) {
		root := tempRoot(t, map[string]string{"report.pdf": "r"})
		planFile := filepath.Join(t.TempDir(), "plan.yaml")

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "plan_organization",
			Arguments: map[string]any{"root": root, "plan_out": planFile},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.FileExists(t, planFile)
		assert.FileExists(t, filepath.Join(root, "report.pdf"))
	})

	t.Run("ApplyRequiresConfirm", func(t *testing.T) {
		root := tempRoot(t, map[string]string{"report.pdf": "r"})

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "apply_organization",
			Arguments: map[string]any{
				"root":  root,
				"moves": []map[string]any{{"source": "report.pdf", "destination": "Documents/report.pdf"}},
			},
		})
		assert.True(t, err != nil || res.IsError)
		assert.FileExists(t, filepath.Join(root, "report.pdf"))
	})

	t.Run("ApplyConfirmed", func(t *testing.T) {
		root := tempRoot(t, map[string]string{"report.pdf": "r"})

		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "apply_organization",
			Arguments: map[string]any{
				"root":    root,
				"confirm": true,
				"moves":   []map[string]any{{"source": "report.pdf", "destination": "Documents/report.pdf"}},
			},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.FileExists(t, filepath.Join(root, "Documents", "report.pdf"))
	})
}
