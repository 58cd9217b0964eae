package answerlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/answer-engine/models"
	"github.com/upb/answer-engine/repositories"
	"go.uber.org/zap"
)

// Service writes answer logs asynchronously. Record never blocks; entries
// that do not fit in the buffer are dropped and counted.
type Service struct {
	repo        repositories.AnswerLogRepository
	txManager   repositories.TransactionManager
	logger      *zap.Logger
	entries     chan *models.AnswerLog
	workerCount int
	bufferSize  int
	batchSize   int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the entry buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Max entries written per transaction
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
		BatchSize:   50,
	}
}

// NewService creates a new Service. txManager may be nil, in which case
// every entry is inserted on its own.
func NewService(repo repositories.AnswerLogRepository, txManager repositories.TransactionManager, logger *zap.Logger, config Config) *Service {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &Service{
		repo:        repo,
		txManager:   txManager,
		logger:      logger,
		entries:     make(chan *models.AnswerLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		batchSize:   config.BatchSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("answer log service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started answer log service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("batch_size", s.batchSize))

	return nil
}

// Stop stops accepting entries and waits for buffered ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("answer log service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.entries)
	s.mu.Unlock()

	s.logger.Info("stopping answer log service", zap.Int("pending_entries", len(s.entries)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("answer log service stopped gracefully",
			zap.Int64("written", s.written.Load()),
			zap.Int64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("answer log service stop timeout after %v", timeout)
	}
}

// Record queues entry for writing. It implements rag.AnswerRecorder.
func (s *Service) Record(entry *models.AnswerLog) {
	if entry == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		s.dropped.Add(1)
		s.logger.Debug("answer log service not running, dropping entry",
			zap.String("agent_id", entry.AgentID))
		return
	}

	select {
	case s.entries <- entry:
	default:
		s.dropped.Add(1)
		s.logger.Warn("answer log buffer full, dropping entry",
			zap.String("agent_id", entry.AgentID),
			zap.String("request_id", entry.RequestID))
	}
}

// worker drains the channel in batches until it is closed
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("answer log worker started", zap.Int("worker_id", id))

	for entry := range s.entries {
		batch := s.collect(entry)
		if err := s.writeBatch(batch); err != nil {
			s.failed.Add(int64(len(batch)))
			s.logger.Error("failed to write answer logs",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
			continue
		}
		s.written.Add(int64(len(batch)))
	}

	s.logger.Debug("answer log worker stopped", zap.Int("worker_id", id))
}

// collect appends whatever is already buffered to first, up to the batch size
func (s *Service) collect(first *models.AnswerLog) []*models.AnswerLog {
	batch := make([]*models.AnswerLog, 0, s.batchSize)
	batch = append(batch, first)

	for len(batch) < s.batchSize {
		select {
		case entry, ok := <-s.entries:
			if !ok {
				return batch
			}
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

// writeBatch inserts batch, inside one transaction when a manager is set
func (s *Service) writeBatch(batch []*models.AnswerLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	insertAll := func(ctx context.Context) error {
		for _, entry := range batch {
			if err := s.repo.Insert(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	}

	if s.txManager == nil {
		return insertAll(ctx)
	}
	return s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return insertAll(txCtx)
	})
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingEntries: len(s.entries),
		WorkerCount:    s.workerCount,
		BatchSize:      s.batchSize,
		Started:        s.started && !s.stopped,
		Written:        s.written.Load(),
		Dropped:        s.dropped.Load(),
		Failed:         s.failed.Load(),
	}
}

// Stats represents answer log service statistics
type Stats struct {
	BufferSize     int
	PendingEntries int
	WorkerCount    int
	BatchSize      int
	Started        bool
	Written        int64
	Dropped        int64
	Failed         int64
}
