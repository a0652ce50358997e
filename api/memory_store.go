package api

import (
	"context"
	"sync"
	"time"

	"portscan/scanner"
)

// MemoryStore implements TaskStore in process memory. It is used when no
// Redis address is configured; tasks do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]memoryEntry
	queue []string
	ready chan struct{}
	ttl   time.Duration
	now   func() time.Time
	poll  time.Duration
}

type memoryEntry struct {
	task    ScanTask
	expires time.Time
}

// NewMemoryStore creates an in-memory task store whose tasks expire ttl
// after their last update. A non-positive ttl keeps tasks forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]memoryEntry),
		ready: make(chan struct{}, 1),
		ttl:   ttl,
		now:   time.Now,
		poll:  queuePollPeriod,
	}
}

// CreateTask stores a copy of task.
func (s *MemoryStore) CreateTask(_ context.Context, task *ScanTask) error {
	s.put(task)
	return nil
}

// UpdateTask replaces the stored copy of task and refreshes its expiry.
func (s *MemoryStore) UpdateTask(_ context.Context, task *ScanTask) error {
	s.put(task)
	return nil
}

func (s *MemoryStore) put(task *ScanTask) {
	entry := memoryEntry{task: cloneTask(task)}
	if s.ttl > 0 {
		entry.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = entry
}

// GetTask returns a copy of the task, or ErrTaskNotFound once it expired.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*ScanTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !entry.expires.IsZero() && !s.now().Before(entry.expires) {
		delete(s.tasks, id)
		return nil, ErrTaskNotFound
	}
	task := cloneTask(&entry.task)
	return &task, nil
}

// PushToQueue enqueues a task ID for workers to process.
func (s *MemoryStore) PushToQueue(_ context.Context, taskID string) error {
	s.mu.Lock()
	s.queue = append(s.queue, taskID)
	s.mu.Unlock()
	s.signal()
	return nil
}

// PopFromQueue returns the oldest queued ID, waiting for one to arrive.
func (s *MemoryStore) PopFromQueue(ctx context.Context) (string, error) {
	timeout := time.NewTimer(s.poll)
	defer timeout.Stop()

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			id := s.queue[0]
			s.queue = s.queue[1:]
			more := len(s.queue) > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return id, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", ErrQueueEmpty
		case <-s.ready:
		}
	}
}

func (s *MemoryStore) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func cloneTask(task *ScanTask) ScanTask {
	out := *task
	if task.Results != nil {
		out.Results = make([]scanner.PortResult, len(task.Results))
		copy(out.Results, task.Results)
	}
	if task.CompletedAt != nil {
		completed := *task.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
