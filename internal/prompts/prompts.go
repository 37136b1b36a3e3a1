// Package prompts holds the oracle prompts and reloads overrides from a directory.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Override file names, one per prompt.
const (
	GateFile       = "gate.txt"
	AdjudicateFile = "adjudicate.txt"
	AgentFile      = "agent.txt"
	AgentTaskFile  = "agent_task.txt"
	ExtractFile    = "extract.txt"
)

// Set is a concurrency-safe collection of prompts. Zero value is not usable; call New.
type Set struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns a Set holding the built-in prompts.
func New() *Set {
	return &Set{values: defaults()}
}

func defaults() map[string]string {
	return map[string]string{
		GateFile:       defaultGate,
		AdjudicateFile: defaultAdjudicate,
		AgentFile:      defaultAgent,
		AgentTaskFile:  defaultAgentTask,
		ExtractFile:    defaultExtract,
	}
}

// Gate returns the OCR gate prompt.
func (s *Set) Gate() string { return s.get(GateFile) }

// Adjudicate returns the verdict rule prompt.
func (s *Set) Adjudicate() string { return s.get(AdjudicateFile) }

// Agent returns the extraction agent's system prompt for the staged image at path.
func (s *Set) Agent(path string) string {
	return strings.ReplaceAll(s.get(AgentFile), ImagePathPlaceholder, path)
}

// AgentTask returns the agent's opening user message.
func (s *Set) AgentTask() string { return s.get(AgentTaskFile) }

// Extract returns the vision transcription prompt.
func (s *Set) Extract() string { return s.get(ExtractFile) }

func (s *Set) get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name]
}

// LoadDir replaces prompts with any non-empty override files found in dir. Prompts without
// an override file revert to the built-in text. An agent override must keep the image path
// placeholder. Nothing changes when an error is returned.
func (s *Set) LoadDir(dir string) error {
	values := defaults()
	for name := range values {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if name == AgentFile && !strings.Contains(text, ImagePathPlaceholder) {
			return fmt.Errorf("prompt %s must contain %s", name, ImagePathPlaceholder)
		}
		values[name] = text
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// IsPromptFile reports whether path names one of the override files.
func IsPromptFile(path string) bool {
	_, ok := defaults()[filepath.Base(path)]
	return ok
}
