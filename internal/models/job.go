package models

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job represents an async transfer run (receive, send, empty).
type Job struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"` // "receive", "send", "empty"
	ConnectionID string     `json:"connection_id"`
	Status       string     `json:"status"` // "running", "completed", "failed"
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	Recap        string     `json:"recap,omitempty"`
	Output       []string   `json:"output"`

	result  []byte
	partial bytes.Buffer
	cancel  func()
	mu      sync.Mutex
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// Write lets a Job act as a log sink. Complete lines are appended to the
// output; a trailing partial line is held until its newline arrives.
func (j *Job) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.partial.Write(p)
	for {
		line, err := j.partial.ReadString('\n')
		if err != nil {
			// no newline yet, put the remainder back
			j.partial.Reset()
			j.partial.WriteString(line)
			break
		}
		j.Output = append(j.Output, strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// SetResult stores the job's produced document (receive jobs).
func (j *Job) SetResult(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = data
}

// Result returns the stored document, or nil.
func (j *Job) Result() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetCancel installs the function that stops the job's run.
func (j *Job) SetCancel(cancel func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel stops a running job. It reports false when the job already
// finished or cannot be cancelled.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != "running" || j.cancel == nil {
		return false
	}
	j.cancel()
	return true
}

// Done reports whether the job has finished, and its final status.
func (j *Job) Done() (bool, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status != "running", j.Status
}

// Complete marks the job as completed with the run's recap line.
func (j *Job) Complete(recap string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = "completed"
	j.Recap = recap
	now := time.Now()
	j.FinishedAt = &now
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = "failed"
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
}

// Snapshot returns a copy of the job that is safe to serialize.
func (j *Job) Snapshot() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := &Job{
		ID:           j.ID,
		Type:         j.Type,
		ConnectionID: j.ConnectionID,
		Status:       j.Status,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		Error:        j.Error,
		Recap:        j.Recap,
		Output:       make([]string, len(j.Output)),
	}
	copy(out.Output, j.Output)
	return out
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new job, assigning it a UUID.
func (s *JobStore) Create(jobType, connectionID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:           uuid.New().String(),
		Type:         jobType,
		ConnectionID: connectionID,
		Status:       "running",
		StartedAt:    time.Now(),
		Output:       []string{},
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
