// Package parsers turns one raw citation string into a structured record.
//
// Each Parser declares a unique name and a relative accuracy. Accuracy only
// orders parsers for display; a low-accuracy parse is stored alongside a
// high-accuracy one, never instead of it.
//
// A parser reports failure in one of three ways:
//
//   - domain.ErrNoMatch: the input produced no usable record (no title).
//   - *domain.ToolError: the external command is missing. Fatal for a run and
//     normally caught up front by Registry.CheckTools.
//   - any other error: a recoverable tool or network failure for this input.
//
// Parsers hold no per-call state and are safe for concurrent use.
package parsers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/normalize"
)

// Registered parser names.
const (
	NameCermine            = "Cermine"
	NameAnystyle           = "Anystyle"
	NameCrossref           = "Crossref"
	NameBloomsburyAcademic = "BloomsburyAcademic"
	NameCambridgeCore      = "CambridgeCore"
)

// Parser converts a cleaned citation into a structured record.
type Parser interface {
	// Name uniquely identifies the parser; it is persisted with every parse.
	Name() string

	// Accuracy is the relative trust in this parser, higher is better.
	Accuracy() int

	// Clean prepares raw finder output for Parse.
	Clean(raw string) string

	// Parse returns a record with a non-empty title or domain.ErrNoMatch.
	Parse(ctx context.Context, cleaned string) (*domain.Record, error)
}

// ToolChecker is implemented by parsers that depend on an external command.
type ToolChecker interface {
	// CheckTool returns a *domain.ToolError when the command cannot be found.
	CheckTool() error
}

// CommandRunner runs external commands. Tests substitute a fake.
type CommandRunner interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// LookPath resolves file in PATH.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Output runs the command and returns its stdout. Stderr is folded into the
// error when the command fails.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// cleaner provides the default Clean shared by every parser.
type cleaner struct{}

// Clean drops invisible characters and collapses whitespace.
func (cleaner) Clean(raw string) string {
	return normalize.Clean(raw)
}

// commandTool implements ToolChecker for subprocess parsers.
type commandTool struct {
	command string
	runner  CommandRunner
}

// CheckTool verifies the command is on PATH.
func (c commandTool) CheckTool() error {
	if _, err := c.runner.LookPath(c.command); err != nil {
		return domain.NewToolError(c.command, nil)
	}
	return nil
}

// run executes the command, surfacing a missing binary as a ToolError.
func (c commandTool) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.runner.Output(ctx, c.command, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, domain.NewToolError(c.command, nil)
		}
		return nil, err
	}
	return out, nil
}

// finish applies the shared no-title rule to a parser result.
func finish(rec *domain.Record, raw string) (*domain.Record, error) {
	if !rec.HasTitle() {
		return nil, domain.ErrNoMatch
	}
	if rec.RawReference == "" {
		rec.RawReference = raw
	}
	return rec, nil
}
