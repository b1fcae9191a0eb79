package organizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Scanner interface {
	Walk(ctx context.Context, root string) iter.Seq2[FileEntry, error]
	Scan(ctx context.Context, root string) (*Inventory, error)
}

// ScanWarning is yielded by Walk for entries that were skipped without
// aborting the walk.
type ScanWarning struct {
	Path   string
	Reason string
}

func (w *ScanWarning) Error() string {
	return fmt.Sprintf("skipped %s: %s", w.Path, w.Reason)
}

type FilesystemScanner struct {
	config *Config
	logger *slog.Logger
}

func NewFilesystemScanner(config *Config, logger *slog.Logger) (*FilesystemScanner, error) {
	for _, pattern := range config.ExcludePatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FilesystemScanner{config: config, logger: logger}, nil
}

// ResolveRoot returns the absolute, symlink-free path of a target directory.
func ResolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &DirectoryNotFoundError{Path: root, Reason: err.Error()}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &DirectoryNotFoundError{Path: root, Reason: "does not exist"}
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", &DirectoryNotFoundError{Path: root, Reason: err.Error()}
	}
	if !info.IsDir() {
		return "", &DirectoryNotFoundError{Path: root, Reason: "not a directory"}
	}
	return resolved, nil
}

// Walk yields every regular file below root in lexical order. Entries that
// cannot be read are yielded as *ScanWarning; any other error ends the walk.
// Symbolic links are never followed.
func (s *FilesystemScanner) Walk(ctx context.Context, root string) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		stopped := errors.New("walk stopped by consumer")

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			relPath, _ := filepath.Rel(root, path)
			relPath = filepath.ToSlash(relPath)

			if err != nil {
				if path == root {
					return err
				}
				if !yield(FileEntry{}, &ScanWarning{Path: relPath, Reason: err.Error()}) {
					return stopped
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if path == root {
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 {
				if !yield(FileEntry{}, &ScanWarning{Path: relPath, Reason: "symbolic link not followed"}) {
					return stopped
				}
				return nil
			}

			if d.IsDir() {
				for _, exclude := range s.config.ExcludeDirs {
					if d.Name() == exclude {
						return filepath.SkipDir
					}
				}
				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}

			for _, pattern := range s.config.ExcludePatterns {
				if matched, _ := filepath.Match(pattern, d.Name()); matched {
					return nil
				}
			}

			info, err := d.Info()
			if err != nil {
				if !yield(FileEntry{}, &ScanWarning{Path: relPath, Reason: err.Error()}) {
					return stopped
				}
				return nil
			}

			entry := FileEntry{
				Path:      relPath,
				Size:      info.Size(),
				Modified:  info.ModTime().UTC(),
				Extension: strings.ToLower(filepath.Ext(d.Name())),
			}
			if !yield(entry, nil) {
				return stopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, stopped) {
			yield(FileEntry{}, err)
		}
	}
}

func (s *FilesystemScanner) Scan(ctx context.Context, root string) (*Inventory, error) {
	resolved, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{Root: resolved, Entries: []FileEntry{}}
	for entry, err := range s.Walk(ctx, resolved) {
		if err != nil {
			var warning *ScanWarning
			if errors.As(err, &warning) {
				s.logger.Warn("skipping entry", "path", warning.Path, "reason", warning.Reason)
				inv.Warnings = append(inv.Warnings, warning.Error())
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", resolved, err)
		}
		inv.Entries = append(inv.Entries, entry)
	}

	s.logger.Debug("scan complete", "root", resolved, "files", len(inv.Entries), "warnings", len(inv.Warnings))
	return inv, nil
}
