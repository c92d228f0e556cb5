// Mendbot - conversational medication companion
// License: MIT

package reminder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mendhq/mendbot/pkg/logger"
)

// Schedule describes when a reminder fires: a one-shot timestamp, a
// fixed interval, or a cron expression.
type Schedule struct {
	Kind    string `json:"kind"` // "at", "every", "cron"
	AtMS    *int64 `json:"atMs,omitempty"`
	EveryMS *int64 `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
	TZ      string `json:"tz,omitempty"`
}

// Payload is what happens when a reminder fires. Deliver=true sends
// Message straight to the channel; otherwise the agent gets a turn to
// act on it.
type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

type JobState struct {
	NextRunAtMS *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Job is one stored reminder, typically a medication dose.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMS    int64    `json:"createdAtMs"`
	UpdatedAtMS    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

type store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// JobHandler runs a due reminder and reports any failure.
type JobHandler func(job *Job) error

// Service persists reminder jobs to a JSON file and fires them from a
// once-a-second scan loop.
type Service struct {
	storePath string
	store     *store
	onJob     JobHandler
	mu        sync.RWMutex
	running   bool
	stopChan  chan struct{}
	gronx     *gronx.Gronx
}

func NewService(storePath string, onJob JobHandler) *Service {
	s := &Service{
		storePath: storePath,
		onJob:     onJob,
		stopChan:  make(chan struct{}),
		gronx:     gronx.New(),
	}
	s.loadStore()
	return s
}

func (s *Service) SetOnJob(handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJob = handler
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := s.loadStore(); err != nil {
		return fmt.Errorf("load reminder store: %w", err)
	}

	s.recomputeNextRuns()
	if err := s.saveStoreLocked(); err != nil {
		return fmt.Errorf("save reminder store: %w", err)
	}

	s.running = true
	go s.runLoop()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

func (s *Service) runLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs()
		}
	}
}

func (s *Service) checkJobs() {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return
	}

	now := time.Now().UnixMilli()
	var due []*Job

	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			jobCopy := *job
			due = append(due, &jobCopy)
		}
	}

	// Clear next-run on due jobs before executing so a slow handler
	// cannot cause a double fire on the next tick.
	dueIDs := make(map[string]bool, len(due))
	for _, job := range due {
		dueIDs[job.ID] = true
	}
	for i := range s.store.Jobs {
		if dueIDs[s.store.Jobs[i].ID] {
			s.store.Jobs[i].State.NextRunAtMS = nil
		}
	}

	if err := s.saveStoreLocked(); err != nil {
		logger.ErrorCF("reminder", "Failed to save store", map[string]interface{}{"error": err.Error()})
	}

	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(job)
	}
}

func (s *Service) executeJob(job *Job) {
	startTime := time.Now().UnixMilli()

	var err error
	if s.onJob != nil {
		err = s.onJob(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}

		s.store.Jobs[i].State.LastRunAtMS = &startTime
		s.store.Jobs[i].UpdatedAtMS = time.Now().UnixMilli()

		if err != nil {
			s.store.Jobs[i].State.LastStatus = "error"
			s.store.Jobs[i].State.LastError = err.Error()
		} else {
			s.store.Jobs[i].State.LastStatus = "ok"
			s.store.Jobs[i].State.LastError = ""
		}

		if s.store.Jobs[i].Schedule.Kind == "at" {
			if s.store.Jobs[i].DeleteAfterRun {
				s.removeJobLocked(job.ID)
			} else {
				s.store.Jobs[i].Enabled = false
				s.store.Jobs[i].State.NextRunAtMS = nil
			}
		} else {
			s.store.Jobs[i].State.NextRunAtMS = s.computeNextRun(&s.store.Jobs[i].Schedule, time.Now().UnixMilli())
		}
		break
	}

	if err := s.saveStoreLocked(); err != nil {
		logger.ErrorCF("reminder", "Failed to save store", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) computeNextRun(schedule *Schedule, nowMS int64) *int64 {
	switch schedule.Kind {
	case "at":
		if schedule.AtMS != nil && *schedule.AtMS > nowMS {
			return schedule.AtMS
		}
		return nil

	case "every":
		if schedule.EveryMS == nil || *schedule.EveryMS <= 0 {
			return nil
		}
		next := nowMS + *schedule.EveryMS
		return &next

	case "cron":
		if schedule.Expr == "" {
			return nil
		}
		nextTime, err := gronx.NextTickAfter(schedule.Expr, time.UnixMilli(nowMS), false)
		if err != nil {
			logger.WarnCF("reminder", "Bad cron expression", map[string]interface{}{
				"expr":  schedule.Expr,
				"error": err.Error(),
			})
			return nil
		}
		nextMS := nextTime.UnixMilli()
		return &nextMS
	}

	return nil
}

func (s *Service) recomputeNextRuns() {
	now := time.Now().UnixMilli()
	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		if job.Enabled {
			job.State.NextRunAtMS = s.computeNextRun(&job.Schedule, now)
		}
	}
}

func (s *Service) loadStore() error {
	s.store = &store{Version: 1, Jobs: []Job{}}

	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, s.store)
}

func (s *Service) saveStoreLocked() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.storePath, data, 0644)
}

// AddJob stores a new reminder and schedules its first run. One-shot
// reminders delete themselves after firing.
func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	job := Job{
		ID:       generateID(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
		State: JobState{
			NextRunAtMS: s.computeNextRun(&schedule, now),
		},
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: schedule.Kind == "at",
	}

	s.store.Jobs = append(s.store.Jobs, job)
	if err := s.saveStoreLocked(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeJobLocked(jobID)
}

func (s *Service) removeJobLocked(jobID string) bool {
	before := len(s.store.Jobs)
	jobs := s.store.Jobs[:0]
	for _, job := range s.store.Jobs {
		if job.ID != jobID {
			jobs = append(jobs, job)
		}
	}
	s.store.Jobs = jobs
	removed := len(s.store.Jobs) < before

	if removed {
		if err := s.saveStoreLocked(); err != nil {
			logger.ErrorCF("reminder", "Failed to save store after remove", map[string]interface{}{"error": err.Error()})
		}
	}
	return removed
}

func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []Job
	for _, job := range s.store.Jobs {
		if includeDisabled || job.Enabled {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nextWake *int64
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMS != nil {
			if nextWake == nil || *job.State.NextRunAtMS < *nextWake {
				nextWake = job.State.NextRunAtMS
			}
		}
	}

	return map[string]interface{}{
		"running":      s.running,
		"jobs":         len(s.store.Jobs),
		"nextWakeAtMS": nextWake,
	}
}

func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
