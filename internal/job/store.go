package job

import "sync"

// Store is the in-memory registry of active jobs. The manager inserts and
// deletes records concurrently with workers mutating them, so the top-level
// map is guarded here; individual job fields are guarded by the job itself.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Put registers a job under its identifier.
func (s *Store) Put(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID()] = j
}

// Get returns the live job, or nil when it is not active.
func (s *Store) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// Delete retires a job from the active set. The on-disk descriptor remains
// the permanent record.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Active returns a snapshot of every not-yet-retired job.
func (s *Store) Active() []Record {
	s.mu.RLock()
	live := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		live = append(live, j)
	}
	s.mu.RUnlock()

	records := make([]Record, 0, len(live))
	for _, j := range live {
		records = append(records, j.Snapshot())
	}
	return records
}

// Len reports the number of active jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
