package telegram

import "sync"

// ThreadJob is one queued prompt targeting a specific session key, ported
// from original_source/src/takopi/scheduler.py's ThreadJob.
type ThreadJob struct {
	ChatID    int64
	UserMsgID int
	Text      string
	Resume    string // resume token value, "" for a fresh run
	Run       func(job ThreadJob)
}

// ThreadScheduler is the spec's §4.9 per-session FIFO queue, distinct from
// the teacher's unrelated cron-style daily reminder scheduler
// (scheduler_cron.go). Ported near 1:1 from ThreadScheduler in
// original_source/src/takopi/scheduler.py: a deque of pending jobs per
// session key, a set of sessions with an active worker, and a busy_until
// gate so a follow-up queued while a run is still executing (but not
// started through this scheduler) waits for it first.
type ThreadScheduler struct {
	mu       sync.Mutex
	pending  map[string][]ThreadJob
	active   map[string]bool
	busyGate map[string]chan struct{}
}

func NewThreadScheduler() *ThreadScheduler {
	return &ThreadScheduler{
		pending:  make(map[string][]ThreadJob),
		active:   make(map[string]bool),
		busyGate: make(map[string]chan struct{}),
	}
}

// ThreadKey mirrors takopi's thread_key: "<engine>:<value>".
func ThreadKey(engineID, value string) string {
	return engineID + ":" + value
}

// NoteThreadKnown records that a run against this session key is in
// flight, for the window between a fresh run discovering its session id
// and that run finishing — the runner-level lock registry only guards
// concurrent resumes, not a late-discovered fresh session, so this gate is
// what makes worker() (below) hold off a same-key job queued after the
// session id became known but before the first run is done.
//
// If a gate already exists for this key and is still open, it is returned
// with owned=false: the caller didn't create it and must not close it.
// Otherwise a new gate is returned with owned=true, and the caller MUST
// close it once its run finishes — NoteThreadKnown spawns the goroutine
// that waits for that close and removes the map entry.
func (s *ThreadScheduler) NoteThreadKnown(key string) (done chan struct{}, owned bool) {
	s.mu.Lock()
	if g, ok := s.busyGate[key]; ok {
		select {
		case <-g:
			// previous gate already fired; fall through and replace it
		default:
			s.mu.Unlock()
			return g, false
		}
	}
	g := make(chan struct{})
	s.busyGate[key] = g
	s.mu.Unlock()
	go s.clearBusy(key, g)
	return g, true
}

func (s *ThreadScheduler) clearBusy(key string, g chan struct{}) {
	<-g
	s.mu.Lock()
	if cur, ok := s.busyGate[key]; ok && cur == g {
		delete(s.busyGate, key)
	}
	s.mu.Unlock()
}

// Enqueue appends a job to its session's queue and starts a worker if one
// isn't already running for that key.
func (s *ThreadScheduler) Enqueue(key string, job ThreadJob) {
	s.mu.Lock()
	s.pending[key] = append(s.pending[key], job)
	start := !s.active[key]
	if start {
		s.active[key] = true
	}
	s.mu.Unlock()

	if start {
		go s.worker(key)
	}
}

func (s *ThreadScheduler) worker(key string) {
	for {
		s.mu.Lock()
		queue := s.pending[key]
		if len(queue) == 0 {
			s.active[key] = false
			s.mu.Unlock()
			return
		}
		job := queue[0]
		s.pending[key] = queue[1:]
		gate := s.busyGate[key]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			default:
				<-gate
			}
		}

		job.Run(job)
	}
}
