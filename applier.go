package organizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem is the subset of filesystem operations the applier performs.
type FileSystem interface {
	Lstat(name string) (fs.FileInfo, error)
	Rename(oldpath, newpath string) error
	Mkdir(name string, perm fs.FileMode) error
	Remove(name string) error
}

type osFileSystem struct{}

func (osFileSystem) Lstat(name string) (fs.FileInfo, error)    { return os.Lstat(name) }
func (osFileSystem) Rename(oldpath, newpath string) error      { return os.Rename(oldpath, newpath) }
func (osFileSystem) Mkdir(name string, perm fs.FileMode) error { return os.Mkdir(name, perm) }
func (osFileSystem) Remove(name string) error                  { return os.Remove(name) }

const DefaultDirPermissions = 0o755

// Applier executes a validated plan one move at a time. When a move fails it
// replays the inverse of every committed move, newest first.
//
// Rollback is only as good as the rename primitive: it assumes os.Rename is
// atomic per call, which holds for moves within one filesystem. A move across
// devices fails up front and is rolled back like any other failure.
type Applier struct {
	fs     FileSystem
	logger *slog.Logger
}

func NewApplier(logger *slog.Logger) *Applier {
	return NewApplierWithFS(osFileSystem{}, logger)
}

func NewApplierWithFS(fsys FileSystem, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{fs: fsys, logger: logger}
}

// Apply moves files under root according to plan. It refuses to touch the
// filesystem unless confirmed is true. On failure the returned error is a
// *PartialApplyError and the result describes every instruction.
func (a *Applier) Apply(ctx context.Context, root string, plan *Plan, confirmed bool) (*ApplyResult, error) {
	if !confirmed {
		return nil, ErrNotConfirmed
	}
	if plan == nil || plan.Status != PlanValid {
		return nil, &PlanValidationError{Reason: "refusing to apply a plan that did not pass validation"}
	}

	result := &ApplyResult{Outcomes: make([]InstructionOutcome, len(plan.Moves))}
	for i, m := range plan.Moves {
		result.Outcomes[i] = InstructionOutcome{Instruction: m, State: StatePending, Location: m.Source}
	}

	var created []string
	for i, m := range plan.Moves {
		outcome := &result.Outcomes[i]
		outcome.State = StateInProgress

		err := ctx.Err()
		if err == nil {
			err = a.move(root, m.Source, m.Destination, &created)
		}
		if err != nil {
			outcome.State = StateFailed
			outcome.Error = err.Error()
			a.logger.Error("move failed", "source", m.Source, "destination", m.Destination, "error", err)

			for j := i + 1; j < len(result.Outcomes); j++ {
				result.Outcomes[j].State = StateUnreached
			}
			a.rollback(root, result, i, created)
			return result, &PartialApplyError{Failed: m, Err: err, Result: result}
		}

		outcome.State = StateCommitted
		outcome.Location = m.Destination
		a.logger.Info("moved", "source", m.Source, "destination", m.Destination)
	}
	return result, nil
}

// rollback reverses the committed instructions before index failed.
func (a *Applier) rollback(root string, result *ApplyResult, failed int, created []string) {
	committed := &Plan{Status: PlanValid}
	for i := 0; i < failed; i++ {
		committed.Moves = append(committed.Moves, result.Outcomes[i].Instruction)
	}

	// The inverse lists the newest commit first, so outcome indexes run backwards.
	for k, inverse := range committed.Invert().Moves {
		outcome := &result.Outcomes[failed-1-k]
		if err := a.move(root, inverse.Source, inverse.Destination, &created); err != nil {
			outcome.State = StateUnrecovered
			outcome.Location = inverse.Source
			outcome.Error = err.Error()
			a.logger.Error("rollback failed, manual intervention required",
				"file", inverse.Source, "original", inverse.Destination, "error", err)
			continue
		}
		outcome.State = StateReversed
		outcome.Location = inverse.Destination
		a.logger.Warn("reversed", "source", inverse.Source, "destination", inverse.Destination)
	}

	for i := len(created) - 1; i >= 0; i-- {
		// Only empty directories can be removed; anything else stays.
		_ = a.fs.Remove(created[i])
	}
}

func (a *Applier) move(root, source, destination string, created *[]string) error {
	absSource := filepath.Join(root, filepath.FromSlash(source))
	absDestination := filepath.Join(root, filepath.FromSlash(destination))

	info, err := a.fs.Lstat(absSource)
	if err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is no longer a regular file", source)
	}

	if err := a.ensureDir(root, filepath.Dir(absDestination), created); err != nil {
		return err
	}

	if _, err := a.fs.Lstat(absDestination); err == nil {
		return fmt.Errorf("destination %s already exists", destination)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("destination %s: %w", destination, err)
	}

	if err := a.fs.Rename(absSource, absDestination); err != nil {
		return fmt.Errorf("rename %s: %w", source, err)
	}
	return nil
}

// ensureDir creates dir and its missing ancestors below root, one level at a
// time, refusing to pass through symbolic links or files.
func (a *Applier) ensureDir(root, dir string, created *[]string) error {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("directory %s is outside %s", dir, root)
	}
	if rel == "." {
		return nil
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)

		info, err := a.fs.Lstat(current)
		switch {
		case err == nil && info.Mode()&fs.ModeSymlink != 0:
			return fmt.Errorf("refusing to move through symbolic link %s", current)
		case err == nil && !info.IsDir():
			return fmt.Errorf("%s is not a directory", current)
		case err == nil:
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}

		if err := a.fs.Mkdir(current, DefaultDirPermissions); err != nil {
			return fmt.Errorf("create directory %s: %w", current, err)
		}
		*created = append(*created, current)
	}
	return nil
}
