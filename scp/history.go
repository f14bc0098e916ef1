// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/curioloop/scp/problem"
)

// Snapshot records the state of one solver iteration. Rejected trial steps
// are recorded too, with Accepted false and X left at the incumbent.
type Snapshot struct {
	Iteration int       `json:"iteration"`
	X         []float64 `json:"x"`
	Radius    float64   `json:"radius"`
	Penalty   float64   `json:"penalty"`
	Objective float64   `json:"objective"`
	Violation float64   `json:"violation"`
	Accepted  bool      `json:"accepted"`
}

// History is the full iteration trace of one solver run.
type History struct {
	RunID     string     `json:"runId"`
	Problem   string     `json:"problem"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Recorder is a sink for finished run histories.
type Recorder interface {
	Record(h *History) error
}

// JSONRecorder persists histories as JSON files under Dir.
type JSONRecorder struct {
	Dir string
}

func (r JSONRecorder) Record(h *History) error { return h.SaveJSON(r.Dir) }

// SaveJSON writes the history as history_<runid>.json under dir,
// creating the directory if needed. The write goes through a temporary
// file so a crash never leaves a truncated history behind.
func (h *History) SaveJSON(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", problem.ErrIO, err)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", problem.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "history-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", problem.ErrIO, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("%w: %v", problem.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: %v", problem.ErrIO, err)
	}
	final := filepath.Join(dir, "history_"+h.RunID+".json")
	if err := os.Rename(name, final); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: %v", problem.ErrIO, err)
	}
	return nil
}
