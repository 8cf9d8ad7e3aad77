package domain

import (
	"errors"
	"fmt"
)

// ErrNoBoundaries is returned when partitioning is asked to run without a catalog.
var ErrNoBoundaries = errors.New("no boundaries to partition")

// CatalogLoadError reports a missing or corrupt boundary catalog.
type CatalogLoadError struct {
	Path string
	Err  error
}

func (e *CatalogLoadError) Error() string {
	return fmt.Sprintf("load boundary catalog %s: %v", e.Path, e.Err)
}

func (e *CatalogLoadError) Unwrap() error { return e.Err }

// Geometry inputs named by InvalidGeometryError.
const (
	InputBoundary     = "boundary"
	InputContour      = "contour"
	InputIntersection = "intersection"
)

// InvalidGeometryError reports that a boundary/contour pair could not be intersected.
type InvalidGeometryError struct {
	Input  string
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid %s geometry: %s", e.Input, e.Reason)
}

// DownloadError reports a failed raw wind data download.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ContourGenerationError reports a failed contour command.
type ContourGenerationError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ContourGenerationError) Error() string {
	msg := fmt.Sprintf("contour command %q failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ContourGenerationError) Unwrap() error { return e.Err }

// WriteError reports an artifact that could not be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Run stages named by StageError.
const (
	StagePrepare   = "prepare"
	StageDownload  = "download"
	StageContour   = "contour"
	StagePartition = "partition"
	StageWrite     = "write"
	StagePublish   = "publish"
)

// StageError wraps a fatal failure with the run stage and layer it happened in.
type StageError struct {
	Stage string
	Layer string
	Err   error
}

func (e *StageError) Error() string {
	if e.Layer == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s layer: %v", e.Stage, e.Layer, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
