// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Persona is the bot's voice: the system prompt sent with every AI request
// and the greeting shown when a client connects.
type Persona struct {
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`
}

// PersonaStore serves the active persona and hot-reloads it when the
// backing YAML file changes. Prompt tuning shouldn't need a restart.
//
// Current() is safe for concurrent use.
type PersonaStore struct {
	path    string
	current atomic.Pointer[Persona]
}

// NewPersonaStore creates a store seeded with fallback. If path is
// non-empty the file is loaded immediately and again on every change via
// Watch; a missing or invalid file keeps the last good persona.
func NewPersonaStore(path string, fallback Persona) (*PersonaStore, error) {
	store := &PersonaStore{path: path}
	store.current.Store(&fallback)

	if path != "" {
		if err := store.reload(); err != nil {
			return nil, fmt.Errorf("failed to load persona file: %w", err)
		}
	}
	return store, nil
}

// Current returns the active persona.
func (p *PersonaStore) Current() *Persona {
	return p.current.Load()
}

// SystemPrompt returns the active system prompt. Shaped for direct use as
// a session.Config.SystemPrompt.
func (p *PersonaStore) SystemPrompt() string {
	return p.current.Load().SystemPrompt
}

// Watch blocks, reloading the persona whenever the file is rewritten,
// until ctx is cancelled. No-op when the store has no backing file.
//
// The watch is on the parent directory: editors and configmap mounts
// replace the file rather than writing it in place, which drops a watch
// held on the file itself.
func (p *PersonaStore) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create persona watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Info("Watching persona file for changes", "path", p.path)

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := p.reload(); err != nil {
				slog.Warn("Persona reload failed, keeping previous persona",
					"path", p.path, "error", err)
				continue
			}
			slog.Info("Persona reloaded", "path", p.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Persona watcher error", "error", err)
		}
	}
}

func (p *PersonaStore) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var persona Persona
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return err
	}
	if persona.SystemPrompt == "" {
		return fmt.Errorf("persona file has no system_prompt")
	}
	p.current.Store(&persona)
	return nil
}
