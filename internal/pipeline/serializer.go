package pipeline

import "sync"

type authorQueue struct {
	jobs   []func()
	active bool
}

// AuthorSerializer runs jobs for the same author strictly in arrival order
// while letting different authors proceed concurrently. Each author gets a
// single drain goroutine that exists only while work is pending.
type AuthorSerializer struct {
	mu     sync.Mutex
	queues map[int64]*authorQueue
	wg     sync.WaitGroup
}

// NewAuthorSerializer creates an empty serializer.
func NewAuthorSerializer() *AuthorSerializer {
	return &AuthorSerializer{queues: make(map[int64]*authorQueue)}
}

// Do enqueues the job for the author and returns immediately. Jobs for one
// author never overlap; the author's slot is released even when a job panics.
func (s *AuthorSerializer) Do(authorID int64, job func()) {
	s.mu.Lock()
	queue, ok := s.queues[authorID]
	if !ok {
		queue = &authorQueue{}
		s.queues[authorID] = queue
	}
	queue.jobs = append(queue.jobs, job)
	start := !queue.active
	if start {
		queue.active = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if start {
		go s.drain(authorID)
	}
}

func (s *AuthorSerializer) drain(authorID int64) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[authorID]
		if len(queue.jobs) == 0 {
			delete(s.queues, authorID)
			s.mu.Unlock()
			return
		}
		job := queue.jobs[0]
		queue.jobs = queue.jobs[1:]
		s.mu.Unlock()

		runJob(job)
	}
}

func runJob(job func()) {
	defer func() {
		// A panicking job must not take the author's drain loop with it.
		_ = recover()
	}()
	job()
}

// Wait blocks until all enqueued jobs have finished. Used during shutdown
// and by tests.
func (s *AuthorSerializer) Wait() {
	s.wg.Wait()
}
