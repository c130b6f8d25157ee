package questions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists Questions under <covenDir>/questions/<id>.json and keeps
// an in-memory index (by ID and by task) for fast lookup.
type Store struct {
	mu      sync.RWMutex
	dir     string
	pending map[string]*Question
	byTask  map[string][]string
}

// NewStore builds a store rooted at <covenDir>/questions.
func NewStore(covenDir string) *Store {
	return &Store{
		dir:     filepath.Join(covenDir, "questions"),
		pending: make(map[string]*Question),
		byTask:  make(map[string][]string),
	}
}

func (s *Store) ensureDir() error {
	return os.MkdirAll(s.dir, 0755)
}

func (s *Store) questionPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes q to disk via a temp-file-then-rename and updates the
// in-memory index.
func (s *Store) Save(q *Question) error {
	if err := s.ensureDir(); err != nil {
		return fmt.Errorf("failed to create questions directory: %w", err)
	}

	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal question: %w", err)
	}

	tempPath := s.questionPath(q.ID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write question file: %w", err)
	}
	if err := os.Rename(tempPath, s.questionPath(q.ID)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename question file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[q.ID] = q
	s.indexByTaskLocked(q.TaskID, q.ID)

	return nil
}

// indexByTaskLocked adds id to taskID's index unless already present.
// Caller must hold s.mu for writing.
func (s *Store) indexByTaskLocked(taskID, id string) {
	for _, existing := range s.byTask[taskID] {
		if existing == id {
			return
		}
	}
	s.byTask[taskID] = append(s.byTask[taskID], id)
}

// Get returns a copy of the question with the given ID, loading it from
// disk and caching it if it isn't already in memory. Returns nil if the
// question doesn't exist anywhere.
func (s *Store) Get(id string) *Question {
	s.mu.RLock()
	q, ok := s.pending[id]
	s.mu.RUnlock()
	if ok {
		cp := *q
		return &cp
	}

	q, err := s.loadFromDisk(id)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	s.pending[id] = q
	s.mu.Unlock()

	cp := *q
	return &cp
}

func (s *Store) loadFromDisk(id string) (*Question, error) {
	data, err := os.ReadFile(s.questionPath(id))
	if err != nil {
		return nil, err
	}
	var q Question
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// GetPendingForTask returns copies of every unanswered question recorded
// for taskID.
func (s *Store) GetPendingForTask(taskID string) []*Question {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*Question
	for _, qID := range s.byTask[taskID] {
		if q, ok := s.pending[qID]; ok && q.IsPending() {
			cp := *q
			pending = append(pending, &cp)
		}
	}
	return pending
}

// GetAllPending returns copies of every unanswered question in the store.
func (s *Store) GetAllPending() []*Question {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*Question
	for _, q := range s.pending {
		if q.IsPending() {
			cp := *q
			pending = append(pending, &cp)
		}
	}
	return pending
}

// MarkAnswered records answer against id and persists the change.
func (s *Store) MarkAnswered(id, answer string) error {
	q, err := s.mutate(id, func(q *Question) {
		now := time.Now()
		q.AnsweredAt = &now
		q.Answer = answer
	})
	if err != nil {
		return err
	}
	return s.Save(q)
}

// MarkDelivered records that id's answer reached the agent's stdin.
func (s *Store) MarkDelivered(id string) error {
	q, err := s.mutate(id, func(q *Question) {
		now := time.Now()
		q.DeliveredAt = &now
	})
	if err != nil {
		return err
	}
	return s.Save(q)
}

// MarkDeliveryFailed records that delivering id's answer failed.
func (s *Store) MarkDeliveryFailed(id, errMsg string) error {
	q, err := s.mutate(id, func(q *Question) {
		q.Error = errMsg
	})
	if err != nil {
		return err
	}
	return s.Save(q)
}

// mutate looks up id, applies fn under the write lock, and returns the
// mutated question for the caller to persist. The caller must Save it
// outside the lock, since Save also acquires s.mu.
func (s *Store) mutate(id string, fn func(*Question)) (*Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("question not found: %s", id)
	}
	fn(q)
	return q, nil
}

// Delete removes a question from the index and from disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.pending[id]; ok {
		taskQuestions := s.byTask[q.TaskID]
		for i, qID := range taskQuestions {
			if qID == id {
				s.byTask[q.TaskID] = append(taskQuestions[:i], taskQuestions[i+1:]...)
				break
			}
		}
		delete(s.pending, id)
	}

	os.Remove(s.questionPath(id))
	return nil
}

// ClearForTask removes every question recorded for taskID, from the index
// and from disk.
func (s *Store) ClearForTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qID := range s.byTask[taskID] {
		delete(s.pending, qID)
		os.Remove(s.questionPath(qID))
	}
	delete(s.byTask, taskID)
}

// LoadAll populates the in-memory index from whatever is on disk. Call once
// at daemon startup to recover state across restarts.
func (s *Store) LoadAll() error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read questions directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		if filepath.Ext(filepath.Base(name[:len(name)-len(".json")])) == ".tmp" {
			continue
		}

		id := name[:len(name)-len(".json")]
		q, err := s.loadFromDisk(id)
		if err != nil {
			continue
		}

		s.pending[q.ID] = q
		s.byTask[q.TaskID] = append(s.byTask[q.TaskID], q.ID)
	}

	return nil
}

// PendingCount returns the number of unanswered questions in the store.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, q := range s.pending {
		if q.IsPending() {
			count++
		}
	}
	return count
}

// Count returns the total number of questions tracked, answered or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
