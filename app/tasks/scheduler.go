package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/feedward/feedward/app/cfg"
	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/harvest"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const dueFeedsBatchSize = 100

type Scheduler struct {
	feedRepo    database.FeedRepository
	harvester   HarvesterInterface
	exportRun   ExportRunnerInterface
	harvestTick time.Duration
	exportTick  time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu sync.Mutex
	// inFlight guards against enqueuing the same feed twice while a prior
	// harvest is still queued or running.
	inFlight map[string]bool
	// deferredHosts holds domains that asked for backoff; their feeds are
	// skipped until the deadline passes.
	deferredHosts map[string]time.Time
}

func NewScheduler(harvester HarvesterInterface, exportRun ExportRunnerInterface,
	feedRepo database.FeedRepository) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		feedRepo:      feedRepo,
		harvester:     harvester,
		exportRun:     exportRun,
		harvestTick:   time.Duration(cfg.HarvestTick) * time.Second,
		exportTick:    time.Duration(cfg.ExportTick) * time.Second,
		workerCount:   cfg.WorkerCount,
		ctx:           ctx,
		cancel:        cancel,
		taskQueue:     make(chan TaskInterface, 300),
		inFlight:      make(map[string]bool),
		deferredHosts: make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.harvestTick)
		defer ticker.Stop()

		s.enqueueHarvestTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueHarvestTasks()
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.exportTick)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.EnqueueTask(NewExportDueTask(s.exportRun)); err != nil {
					slog.Warn("Failed to enqueue ExportDueTask", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the scheduler context and waits for the workers. The task
// queue is left open: the HTTP surface may still call EnqueueTask during
// graceful shutdown, and a send on a closed channel would panic.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueHarvestTasks() {
	dueFeeds, err := s.feedRepo.ListDueFeeds(time.Now(), dueFeedsBatchSize)
	if err != nil {
		slog.Error("Failed to list due feeds", "error", err)
		return
	}
	if len(dueFeeds) == 0 {
		slog.Debug("No feeds due for harvest")
		return
	}

	slog.Debug("Scheduling due feeds", "count", len(dueFeeds))

	for i := range dueFeeds {
		feed := dueFeeds[i]

		if !s.claim(&feed) {
			continue
		}

		task := NewHarvestFeedTask(&feed, s.harvester)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue HarvestFeedTask", "feed", feed.ID, "error", err)
			s.release(feed.ID)
		}
	}
}

// claim reserves the feed for one harvest pass. Returns false when the feed
// is already queued or its host is deferred.
func (s *Scheduler) claim(feed *database.Feed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[feed.ID] {
		return false
	}
	if until, ok := s.deferredHosts[feed.Domain]; ok {
		if time.Now().Before(until) {
			slog.Debug("Host deferred, skipping feed", "feed", feed.ID, "domain", feed.Domain)
			return false
		}
		delete(s.deferredHosts, feed.Domain)
	}

	s.inFlight[feed.ID] = true
	return true
}

func (s *Scheduler) release(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, feedID)
}

func (s *Scheduler) deferHost(rawURL string, retryAfter time.Duration) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferredHosts[parsed.Hostname()] = time.Now().Add(retryAfter)
	slog.Warn("Host deferred after overload", "domain", parsed.Hostname(), "retry_after", retryAfter.String())
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if feedID := task.GetFeedID(); feedID != "" {
		s.release(feedID)
	}

	if err == nil {
		return
	}

	var overloaded *harvest.HostOverloadedError
	if errors.As(err, &overloaded) {
		s.deferHost(overloaded.URL, overloaded.RetryAfter)
		return
	}

	slog.Error("Worker task execution failed",
		"worker_id", workerID,
		"type", string(task.GetType()),
		"id", task.GetID(),
		"error", err)
}
