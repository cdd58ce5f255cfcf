// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     transcribe
// Description: Hotfolder watcher that runs dropped-in jobs and audio
// Author:      Mike Stoffels with Claude
// Created:     2026-07-13
// License:     MIT
// ============================================================================

package transcribe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msto63/mSW/pkg/core/logging"
)

// JobWatcherConfig wires the hotfolder watcher.
type JobWatcherConfig struct {
	Transcriber *Transcriber

	// Dir is the watched job directory.
	Dir string

	// QueueSize bounds the pending job queue; zero means 16.
	QueueSize int

	// OnDone is called after each job run with the written report paths
	// or the run error. Optional.
	OnDone func(job *Job, written []string, err error)

	Logger *logging.Logger
}

// JobWatcher watches a directory for YAML job files and runs each new or
// changed job through the transcriber. A bare WAV dropped into the
// directory becomes a default job with the report written next to the
// audio. Jobs execute sequentially so the model is never shared across
// jobs; chunk-level concurrency stays inside one job.
type JobWatcher struct {
	transcriber *Transcriber
	dir         string
	onDone      func(job *Job, written []string, err error)
	log         *logging.Logger

	watcher *fsnotify.Watcher
	jobs    chan *Job
	stopCh  chan struct{}

	mu      sync.Mutex
	running bool
}

// NewJobWatcher builds a watcher; Start begins watching.
func NewJobWatcher(cfg JobWatcherConfig) (*JobWatcher, error) {
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("job watcher requires a transcriber")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("job watcher requires a directory")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("transcribe")
	}

	return &JobWatcher{
		transcriber: cfg.Transcriber,
		dir:         cfg.Dir,
		onDone:      cfg.OnDone,
		log:         log,
		jobs:        make(chan *Job, queueSize),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start loads the jobs already in the directory, then watches for new
// ones until the context ends or Stop is called.
func (w *JobWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.watcher = watcher
	w.running = true
	w.mu.Unlock()

	w.log.Info("watching job directory", "dir", w.dir)

	existing, err := LoadJobDir(w.dir, w.log)
	if err != nil {
		return err
	}
	for _, job := range existing {
		w.enqueue(ctx, job)
	}

	go w.watchLoop(ctx)
	go w.runLoop(ctx)
	return nil
}

// Stop ends watching; queued jobs are dropped.
func (w *JobWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.running = false
		close(w.stopCh)
	}
}

// watchLoop handles file system events
func (w *JobWatcher) watchLoop(ctx context.Context) {
	defer w.watcher.Close()

	// Debounce map to prevent multiple runs for the same file
	debounce := make(map[string]time.Time)
	debounceDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping job watcher (context cancelled)")
			return

		case <-w.stopCh:
			w.log.Info("stopping job watcher (stop signal)")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isJobFile(event.Name) && !isAudioFile(event.Name) {
				continue
			}

			// Debounce: skip if we just processed this file
			if lastTime, exists := debounce[event.Name]; exists {
				if time.Since(lastTime) < debounceDelay {
					continue
				}
			}
			debounce[event.Name] = time.Now()

			w.handleFileEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// handleFileEvent processes a single file event
func (w *JobWatcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	fileName := filepath.Base(event.Name)

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create || event.Op&fsnotify.Write == fsnotify.Write:
		if isAudioFile(event.Name) {
			w.log.Info("audio file dropped, queueing", "file", fileName, "op", event.Op.String())
			w.enqueue(ctx, audioJob(event.Name))
			return
		}

		w.log.Info("job file changed, loading", "file", fileName, "op", event.Op.String())

		job, err := LoadJob(event.Name)
		if err != nil {
			w.log.Error("failed to load job", "file", fileName, "error", err)
			return
		}
		w.enqueue(ctx, job)

	case event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename:
		w.log.Debug("watched file removed", "file", fileName)
	}
}

// enqueue queues a job, giving up when the watcher shuts down first.
func (w *JobWatcher) enqueue(ctx context.Context, job *Job) {
	select {
	case w.jobs <- job:
		w.log.Debug("job queued", "name", job.Name, "inputs", len(job.InputFiles()))
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

// runLoop executes queued jobs one at a time.
func (w *JobWatcher) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case job := <-w.jobs:
			w.runJob(ctx, job)
		}
	}
}

func (w *JobWatcher) runJob(ctx context.Context, job *Job) {
	start := time.Now()
	written, err := w.transcriber.RunJob(ctx, job)
	if err != nil {
		w.log.Error("job failed", "name", job.Name, "error", err)
	} else {
		w.log.Info("job finished",
			"name", job.Name,
			"reports", len(written),
			"elapsed", time.Since(start))
	}
	if w.onDone != nil {
		w.onDone(job, written, err)
	}
}

func isJobFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isAudioFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".wav"
}

// audioJob wraps a dropped audio file in a default job: language detected,
// text report written next to the audio.
func audioJob(path string) *Job {
	job := &Job{
		Input:      path,
		OutputDir:  filepath.Dir(path),
		SourceFile: path,
	}
	job.Defaults()
	return job
}
