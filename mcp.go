package organizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Parameter structures for MCP tools
type ScanDirectoryParams struct {
	Root string `json:"root"`
}

type ShowPromptParams struct {
	Root string `json:"root"`
}

type PlanOrganizationParams struct {
	Root    string `json:"root"`
	PlanOut string `json:"plan_out,omitempty"`
}

type ApplyOrganizationParams struct {
	Root    string            `json:"root"`
	Moves   []MoveInstruction `json:"moves"`
	Confirm bool              `json:"confirm"`
}

type ShowPromptResult struct {
	System      string `json:"system"`
	User        string `json:"user"`
	Fingerprint string `json:"fingerprint"`
}

type ApplyOrganizationResult struct {
	Summary  PlanSummary          `json:"summary"`
	Skipped  []SkippedInstruction `json:"skipped,omitempty"`
	Outcomes []InstructionOutcome `json:"outcomes"`
	Error    string               `json:"error,omitempty"`
}

// Tool handler functions
func ScanDirectoryTool(ctx context.Context, req *mcp.CallToolRequest, args ScanDirectoryParams, organizer Organizer) (*mcp.CallToolResult, any, error) {
	inv, err := organizer.Scan(ctx, args.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	return nil, inv, nil
}

func ShowPromptTool(ctx context.Context, req *mcp.CallToolRequest, args ShowPromptParams, organizer Organizer) (*mcp.CallToolResult, any, error) {
	inv, err := organizer.Scan(ctx, args.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	request, err := organizer.BuildRequest(inv)
	if err != nil {
		return nil, nil, err
	}
	return nil, ShowPromptResult{
		System:      request.System,
		User:        request.User,
		Fingerprint: request.Fingerprint(),
	}, nil
}

func PlanOrganizationTool(ctx context.Context, req *mcp.CallToolRequest, args PlanOrganizationParams, organizer Organizer) (*mcp.CallToolResult, any, error) {
	run, err := organizer.Plan(ctx, args.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to plan organization: %w", err)
	}
	if args.PlanOut != "" {
		if err := WriteAuditFile(args.PlanOut, run); err != nil {
			return nil, nil, err
		}
	}
	return nil, NewPlanReport(run), nil
}

// ApplyOrganizationTool re-validates the supplied moves against a fresh scan
// before moving anything.
func ApplyOrganizationTool(ctx context.Context, req *mcp.CallToolRequest, args ApplyOrganizationParams, organizer Organizer) (*mcp.CallToolResult, any, error) {
	if !args.Confirm {
		return nil, nil, fmt.Errorf("%w: set confirm to true", ErrNotConfirmed)
	}

	raw, err := json.Marshal(struct {
		Moves []MoveInstruction `json:"moves"`
	}{Moves: args.Moves})
	if err != nil {
		return nil, nil, err
	}

	run, err := organizer.PlanFromResponse(ctx, args.Root, RawResponse(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to validate moves: %w", err)
	}

	result := ApplyOrganizationResult{Summary: run.Plan.Summary(), Skipped: run.Plan.Skipped}
	if len(run.Plan.Moves) == 0 {
		return nil, result, nil
	}

	applied, err := organizer.Apply(ctx, run, args.Confirm)
	if applied != nil {
		result.Outcomes = applied.Outcomes
	}
	if err != nil {
		var partial *PartialApplyError
		if !errors.As(err, &partial) {
			return nil, nil, fmt.Errorf("failed to apply organization: %w", err)
		}
		result.Error = err.Error()
	}
	return nil, result, nil
}

// RunMCPServer starts the MCP server implementation using the official Go SDK
// If transport is nil, it will use stdio transport
func RunMCPServer(ctx context.Context, organizer Organizer, transport *mcp.InMemoryTransport) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "file-organizer",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scan_directory",
		Description: "List the files of a directory with size and modification time",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ScanDirectoryParams) (*mcp.CallToolResult, any, error) {
		return ScanDirectoryTool(ctx, req, args, organizer)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "show_prompt",
		Description: "Show the request that would be sent to the model for a directory",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ShowPromptParams) (*mcp.CallToolResult, any, error) {
		return ShowPromptTool(ctx, req, args, organizer)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_organization",
		Description: "Propose and validate a folder structure for a directory without moving anything",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args PlanOrganizationParams) (*mcp.CallToolResult, any, error) {
		return PlanOrganizationTool(ctx, req, args, organizer)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_organization",
		Description: "Validate and apply explicit moves; requires confirm=true and rolls back on failure",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ApplyOrganizationParams) (*mcp.CallToolResult, any, error) {
		return ApplyOrganizationTool(ctx, req, args, organizer)
	})

	if transport != nil {
		return server.Run(ctx, transport)
	}
	return server.Run(ctx, &mcp.StdioTransport{})
}
