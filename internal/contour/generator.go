package contour

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// maxStderr bounds how much command output is kept on failure.
const maxStderr = 2048

// Generator runs the external contour command.
type Generator struct {
	command []string
	logger  *slog.Logger
}

// NewGenerator creates a Generator. command is the program and its leading
// arguments, e.g. ["python3", "scripts/contour.py"].
func NewGenerator(command []string, logger *slog.Logger) *Generator {
	return &Generator{command: command, logger: logger}
}

// Generate converts the raw wind CSV at src into a GeoJSON contour layer at
// dest. cpuTimeLimit is passed through in seconds; -1 means unlimited.
func (g *Generator) Generate(ctx context.Context, src, dest string, levels []float64, cpuTimeLimit int) error {
	if len(g.command) == 0 {
		return &domain.ContourGenerationError{Err: errors.New("no contour command configured")}
	}

	args := append([]string{}, g.command[1:]...)
	args = append(args, Args(src, dest, levels, cpuTimeLimit)...)
	display := strings.Join(append([]string{g.command[0]}, args...), " ")

	cmd := exec.CommandContext(ctx, g.command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	g.logger.Info("running contour command", "command", display)
	if err := cmd.Run(); err != nil {
		cerr := &domain.ContourGenerationError{Command: display, Stderr: tail(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return cerr
	}

	if _, err := os.Stat(dest); err != nil {
		return &domain.ContourGenerationError{Command: display, Err: fmt.Errorf("no layer written: %w", err)}
	}
	return nil
}

// Args builds the contour command arguments after the program name.
func Args(src, dest string, levels []float64, cpuTimeLimit int) []string {
	args := []string{"-f", "GeoJSON", "-a", "wind", "-l", JoinLevels(levels)}
	if cpuTimeLimit > -1 {
		args = append(args, "-tl", strconv.Itoa(cpuTimeLimit))
	}
	return append(args, src, dest)
}

// JoinLevels formats levels as the comma-separated list the command expects.
func JoinLevels(levels []float64) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.FormatFloat(l, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[len(s)-maxStderr:]
	}
	return s
}
