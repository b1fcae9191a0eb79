package organizer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// RunCmdOptions contains options for customizing RunCmd behavior
type RunCmdOptions struct {
	// MCPTransport allows providing a custom transport for MCP server (used for testing)
	MCPTransport *mcp.InMemoryTransport
	// Stdin is read for the apply confirmation (defaults to os.Stdin)
	Stdin io.Reader
	// Stdout writer for normal output (defaults to os.Stdout)
	Stdout io.Writer
	// Stderr writer for logs and error output (defaults to os.Stderr)
	Stderr io.Writer
	// Provider replaces the configured provider
	Provider Provider
	// LookupEnv defaults to os.LookupEnv
	LookupEnv func(string) (string, bool)
	// Clipboard receives the payload for --copy (defaults to the system clipboard)
	Clipboard func(string) error
}

type cliFlags struct {
	apply          bool
	yes            bool
	showPrompt     bool
	local          bool
	json           bool
	copy           bool
	mcp            bool
	planOut        string
	planIn         string
	configFile     string
	systemPrompt   string
	organizePrompt string
	logLevel       string
	logFormat      string
}

// commandContext holds runtime context for command execution
type commandContext struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	flags     *cliFlags
	organizer *DefaultOrganizer
	clipboard func(string) error
}

// RunCmd runs the organize command. args includes the program name, as os.Args does.
func RunCmd(args []string, options *RunCmdOptions) error {
	opts := RunCmdOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.WriteAll
	}

	cmd := newRootCmd(&opts)
	if len(args) > 1 {
		cmd.SetArgs(args[1:])
	} else {
		cmd.SetArgs([]string{})
	}
	return cmd.Execute()
}

func newRootCmd(opts *RunCmdOptions) *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "organize <target-directory>",
		Short: "Reorganize the files of a directory into a folder structure proposed by a model",
		Long: `organize scans a directory, asks a language model (or a local heuristic) how
its files should be arranged into folders, and prints the proposed moves.

Nothing is moved unless --apply is given and the moves are confirmed. If any
move fails, every move already made is reversed.

Environment:
  MODEL_PROVIDER      openai, anthropic or heuristic (default openai)
  MODEL_NAME          model to request (default depends on the provider)
  OPENAI_API_KEY      required for the openai provider
  ANTHROPIC_API_KEY   required for the anthropic provider
  PROVIDER_ENDPOINT   override the provider base URL

Exit status is 0 on success, 1 on error, 2 when an apply was rolled back and
3 when a rollback left files out of place.`,
		Example: `  organize ~/Downloads
  organize ~/Downloads --local --apply
  organize ~/Downloads --show-prompt --copy
  organize ~/Downloads --plan-out plan.yaml
  organize ~/Downloads --plan-in plan.yaml --apply --yes
  organize --mcp`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrganize(cmd, args, flags, opts)
		},
	}
	cmd.SetIn(opts.Stdin)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)

	f := cmd.Flags()
	f.BoolVar(&flags.apply, "apply", false, "Move the files after showing the plan")
	f.BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation before applying")
	f.BoolVar(&flags.showPrompt, "show-prompt", false, "Print the request that would be sent and exit")
	f.BoolVar(&flags.local, "local", false, "Use the local extension heuristic instead of a model")
	f.BoolVar(&flags.json, "json", false, "Print the plan as JSON")
	f.BoolVar(&flags.copy, "copy", false, "Copy the request to the clipboard (with --show-prompt)")
	f.BoolVar(&flags.mcp, "mcp", false, "Run as MCP server")
	f.StringVar(&flags.planOut, "plan-out", "", "Write the validated plan to a YAML file")
	f.StringVar(&flags.planIn, "plan-in", "", "Read moves from a plan or response file instead of a provider")
	f.StringVar(&flags.configFile, "config", "", "Path to configuration file")
	f.StringVar(&flags.systemPrompt, "system-prompt", "", "Path to a system prompt file")
	f.StringVar(&flags.organizePrompt, "organize-prompt", "", "Path to an organization prompt file")
	f.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")
	return cmd
}

func runOrganize(cmd *cobra.Command, args []string, flags *cliFlags, opts *RunCmdOptions) error {
	if !flags.mcp && len(args) == 0 {
		return cmd.Help()
	}

	logger, err := NewLogger(flags.logLevel, flags.logFormat, opts.Stderr)
	if err != nil {
		return err
	}

	config, err := LoadConfigWithEnv(flags.configFile, opts.LookupEnv)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.systemPrompt != "" {
		config.SystemPromptFile = flags.systemPrompt
	}
	if flags.organizePrompt != "" {
		config.OrganizePromptFile = flags.organizePrompt
	}
	if flags.local {
		config.Provider = ProviderHeuristic
	}

	var orgOpts []Option
	if opts.Provider != nil {
		orgOpts = append(orgOpts, WithProvider(opts.Provider))
	}
	organizer, err := NewDefaultOrganizer(config, logger, orgOpts...)
	if err != nil {
		return fmt.Errorf("failed to create organizer: %w", err)
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if flags.mcp {
		return RunMCPServer(ctx, organizer, opts.MCPTransport)
	}

	cmdCtx := &commandContext{
		stdin:     opts.Stdin,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		flags:     flags,
		organizer: organizer,
		clipboard: opts.Clipboard,
	}

	if flags.showPrompt {
		return showPromptCommand(ctx, cmdCtx, args[0])
	}
	return organizeCommand(ctx, cmdCtx, args[0])
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func showPromptCommand(ctx context.Context, cmdCtx *commandContext, root string) error {
	inv, err := cmdCtx.organizer.Scan(ctx, root)
	if err != nil {
		return err
	}
	req, err := cmdCtx.organizer.BuildRequest(inv)
	if err != nil {
		return err
	}

	payload := string(req.Payload())
	if _, err := fmt.Fprintln(cmdCtx.stdout, payload); err != nil {
		return err
	}
	if cmdCtx.flags.copy {
		if err := cmdCtx.clipboard(payload); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
		_, _ = fmt.Fprintln(cmdCtx.stderr, "Request copied to clipboard.")
	}
	return nil
}

func organizeCommand(ctx context.Context, cmdCtx *commandContext, root string) error {
	var (
		run *Run
		err error
	)
	if cmdCtx.flags.planIn != "" {
		data, readErr := os.ReadFile(cmdCtx.flags.planIn)
		if readErr != nil {
			return fmt.Errorf("failed to read plan: %w", readErr)
		}
		run, err = cmdCtx.organizer.PlanFromResponse(ctx, root, RawResponse(data))
	} else {
		run, err = cmdCtx.organizer.Plan(ctx, root)
	}
	if err != nil {
		return err
	}

	if cmdCtx.flags.json {
		err = WritePlanJSON(cmdCtx.stdout, run)
	} else {
		err = WritePlanReport(cmdCtx.stdout, run.Plan)
	}
	if err != nil {
		return err
	}

	if cmdCtx.flags.planOut != "" {
		if err := WriteAuditFile(cmdCtx.flags.planOut, run); err != nil {
			return err
		}
	}

	if !cmdCtx.flags.apply {
		return nil
	}
	if len(run.Plan.Moves) == 0 {
		_, _ = fmt.Fprintln(cmdCtx.stdout, "Nothing to apply.")
		return nil
	}

	confirmed := cmdCtx.flags.yes
	if !confirmed {
		confirmed, err = confirm(cmdCtx.stdin, cmdCtx.stdout, len(run.Plan.Moves))
		if err != nil {
			return err
		}
	}
	if !confirmed {
		_, _ = fmt.Fprintln(cmdCtx.stdout, "Aborted; no files were moved.")
		return nil
	}

	result, err := cmdCtx.organizer.Apply(ctx, run, confirmed)
	if result != nil {
		if reportErr := WriteApplyReport(cmdCtx.stdout, cmdCtx.stderr, result); reportErr != nil && err == nil {
			err = reportErr
		}
	}
	return err
}

// confirm asks before moving anything. Only "y" or "yes" confirm; end of
// input counts as no.
func confirm(in io.Reader, out io.Writer, moves int) (bool, error) {
	if _, err := fmt.Fprintf(out, "Apply %d moves? [y/N] ", moves); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
