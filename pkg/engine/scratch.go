package engine

import (
	"fmt"
	"sort"
	"sync"
)

// scratchEntry is one version of a scratchpad value.
type scratchEntry struct {
	Value   string `json:"value"`
	Version int    `json:"version"`
}

// scratchTask is one entry of the run's working task list.
type scratchTask struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Scratchpad is per-run working memory for the middleware engine: a
// versioned key/value store plus a task list. It is discarded when the run
// ends; durable state belongs in the task store.
type Scratchpad struct {
	mu     sync.Mutex
	keys   map[string][]scratchEntry
	tasks  []scratchTask
	nextID int
}

// NewScratchpad builds an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{keys: make(map[string][]scratchEntry), nextID: 1}
}

// Write stores value under key and returns the new version, starting at 1.
// Earlier versions stay readable.
func (s *Scratchpad) Write(key, value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := len(s.keys[key]) + 1
	s.keys[key] = append(s.keys[key], scratchEntry{Value: value, Version: version})
	return version
}

// Read returns the value at version, or the latest when version is 0.
func (s *Scratchpad) Read(key string, version int) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.keys[key]
	if len(history) == 0 {
		return "", 0, fmt.Errorf("scratch key %q not found", key)
	}
	if version == 0 {
		latest := history[len(history)-1]
		return latest.Value, latest.Version, nil
	}
	if version < 1 || version > len(history) {
		return "", 0, fmt.Errorf("scratch key %q has no version %d", key, version)
	}
	entry := history[version-1]
	return entry.Value, entry.Version, nil
}

// Keys lists stored keys, sorted.
func (s *Scratchpad) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddTask appends a task and returns its identifier.
func (s *Scratchpad) AddTask(description string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.tasks = append(s.tasks, scratchTask{ID: id, Description: description})
	return id
}

// CompleteTask marks a task done.
func (s *Scratchpad) CompleteTask(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Done = true
			return nil
		}
	}
	return fmt.Errorf("task %d not found", id)
}

// Tasks returns the task list in insertion order.
func (s *Scratchpad) Tasks() []scratchTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scratchTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}
