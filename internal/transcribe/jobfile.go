// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     transcribe
// Description: YAML-based transcription job definitions
// Author:      Mike Stoffels with Claude
// Created:     2026-07-12
// License:     MIT
// ============================================================================

package transcribe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/pkg/core/logging"
)

// Job file errors
var (
	ErrJobMissingInput  = errors.New("job has no input file")
	ErrJobInvalidTask   = errors.New("job task must be transcribe or translate")
	ErrJobInvalidFormat = errors.New("unknown output format")
	ErrJobLoadFailed    = errors.New("failed to load job file")
	ErrJobInvalidYAML   = errors.New("invalid YAML syntax")
)

// Job represents one transcription job loaded from YAML.
type Job struct {
	// Core identification
	Name string `yaml:"name,omitempty"`

	// Audio inputs; Input and Inputs may be combined
	Input  string   `yaml:"input,omitempty"`
	Inputs []string `yaml:"inputs,omitempty"`

	// Output configuration
	OutputDir string   `yaml:"output_dir,omitempty"`
	Formats   []string `yaml:"formats,omitempty"`

	// Decoding configuration
	Task              string  `yaml:"task,omitempty"`
	Language          string  `yaml:"language,omitempty"`
	Temperature       float32 `yaml:"temperature,omitempty"`
	WordTimestamps    bool    `yaml:"word_timestamps,omitempty"`
	WithoutTimestamps bool    `yaml:"without_timestamps,omitempty"`

	// Concurrency; zero means one worker per physical core
	Workers int `yaml:"workers,omitempty"`

	// Internal tracking (not from YAML)
	SourceFile string    `yaml:"-"`
	LoadedAt   time.Time `yaml:"-"`
}

// Defaults applies default values to the job definition
func (j *Job) Defaults() {
	if j.Task == "" {
		j.Task = string(decode.TaskTranscribe)
	}
	if len(j.Formats) == 0 {
		j.Formats = []string{string(FormatText)}
	}
	if j.OutputDir == "" {
		j.OutputDir = "."
	}
	if j.Name == "" && j.SourceFile != "" {
		base := filepath.Base(j.SourceFile)
		j.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if j.Workers < 0 {
		j.Workers = 0
	}
}

// InputFiles returns all audio inputs of the job in declaration order.
func (j *Job) InputFiles() []string {
	var files []string
	if j.Input != "" {
		files = append(files, j.Input)
	}
	return append(files, j.Inputs...)
}

// Options maps the job's decoding fields onto full decoding options.
func (j *Job) Options() decode.Options {
	opts := decode.DefaultOptions()
	if j.Task != "" {
		opts.Task = decode.Task(j.Task)
	}
	opts.Language = j.Language
	if j.Language == "" {
		opts.DetectLanguage = true
	}
	if j.Temperature > 0 {
		opts.Temperature = j.Temperature
	}
	opts.WordTimestamps = j.WordTimestamps
	opts.WithoutTimestamps = j.WithoutTimestamps
	return opts
}

// ReportFormats resolves the job's format names.
func (j *Job) ReportFormats() ([]Format, error) {
	formats := make([]Format, 0, len(j.Formats))
	for _, name := range j.Formats {
		format, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// Validate checks if the job definition is valid
func (j *Job) Validate() error {
	if len(j.InputFiles()) == 0 {
		return ErrJobMissingInput
	}
	switch decode.Task(j.Task) {
	case decode.TaskTranscribe, decode.TaskTranslate:
	default:
		return fmt.Errorf("%w: %q", ErrJobInvalidTask, j.Task)
	}
	if _, err := j.ReportFormats(); err != nil {
		return err
	}
	return nil
}

// LoadJob reads, defaults and validates one YAML job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobLoadFailed, err)
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobInvalidYAML, err)
	}

	job.SourceFile = path
	job.Defaults()
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	job.LoadedAt = time.Now()
	return &job, nil
}

// LoadJobDir loads every *.yaml and *.yml job under dir. Invalid files
// are logged and skipped so one bad job cannot block the rest.
func LoadJobDir(dir string, log *logging.Logger) ([]*Job, error) {
	if log == nil {
		log = logging.New("transcribe")
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJobLoadFailed, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	jobs := make([]*Job, 0, len(paths))
	for _, path := range paths {
		job, err := LoadJob(path)
		if err != nil {
			log.Warn("skipping invalid job file", "file", path, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
