// Package service provides the portal business service behind the HTTP API:
// result uploads and lookups, teacher login and location-gated attendance.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/resultportal/internal/adapters/mq/queue"
	workerpool "github.com/okian/resultportal/internal/adapters/mq/worker"
	"github.com/okian/resultportal/internal/adapters/repository"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/internal/domain/dedupe"
	"github.com/okian/resultportal/internal/domain/grading"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
	"github.com/okian/resultportal/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize        = 1_000
	defaultDedupeSize       = 10_000
	defaultJobHistory       = 1_000
	defaultMaxBatchRows     = 10_000
	defaultGeohashPrecision = 9
)

// Admin describes the teacher account created on first start.
type Admin struct {
	Username     string
	Name         string
	PasswordHash string
}

// Service implements the API dependencies for the portal.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	policy   attendance.Policy
	grader   *grading.Grader
	tokens   *auth.Tokens
	deduper  dedupe.Deduper
	queue    queue.Queue
	pool     *workerpool.Pool
	jobs     *jobTracker
	rankLock sync.Mutex

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	jobHistory       int
	maxBatchRows     int
	geohashPrecision uint
	location         *time.Location
	admin            Admin
	now              func() time.Time

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. Defaults to a MemoryStore.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPolicy sets the attendance eligibility policy.
func WithPolicy(p attendance.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithGrader overrides the grading bands.
func WithGrader(g *grading.Grader) Option {
	return func(s *Service) {
		if g != nil {
			s.grader = g
		}
	}
}

// WithTokens sets the session token issuer. Required for Login.
func WithTokens(t *auth.Tokens) Option {
	return func(s *Service) {
		s.tokens = t
	}
}

// WithWorkerCount sets the number of import workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of waiting upload batches.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many batch ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxBatchRows caps rows per upload.
func WithMaxBatchRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchRows = n
		}
	}
}

// WithGeohashPrecision sets the geohash length stored with attendance.
func WithGeohashPrecision(p int) Option {
	return func(s *Service) {
		if p > 0 {
			s.geohashPrecision = uint(p)
		}
	}
}

// WithLocation sets the timezone that decides "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithAdmin bootstraps a teacher account on Start when it does not exist.
func WithAdmin(a Admin) Option {
	return func(s *Service) {
		s.admin = a
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	policy, _ := attendance.NewPolicy()
	s := &Service{
		policy:           policy,
		grader:           grading.New(),
		workerCount:      runtime.NumCPU(),
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		jobHistory:       defaultJobHistory,
		maxBatchRows:     defaultMaxBatchRows,
		geohashPrecision: defaultGeohashPrecision,
		location:         time.UTC,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	return s
}

// Start bootstraps the admin account and starts the import workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting portal service...", logger.String("storage", s.store.Backend()))

	if err := s.bootstrapAdmin(ctx); err != nil {
		return err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.jobs = newJobTracker(s.jobHistory)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, workerpool.ProcessorFunc(s.processBatch),
		workerpool.WithName("import-worker"),
		workerpool.WithLogger(s.logger),
		workerpool.WithDropHandler(s.abandonBatch),
	)
	// Workers outlive the request that started the service.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "portal service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Float64("maxDistanceKm", s.policy.MaxDistanceKm()),
	)
	return nil
}

// Stop drains the import queue and releases the store. The store is closed
// only once no import worker can still reach it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping portal service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	select {
	case <-s.pool.Done():
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	default:
		s.logger.Warn(ctx, "import workers still running; store closes when they return")
		go func(store repository.Store, done <-chan struct{}) {
			<-done
			_ = store.Close()
		}(s.store, s.pool.Done())
	}
	s.started = false
	s.logger.Info(ctx, "portal service stopped")
	return errors.Join(errs...)
}

func (s *Service) bootstrapAdmin(ctx context.Context) error {
	if s.admin.Username == "" || s.admin.PasswordHash == "" {
		s.logger.Warn(ctx, "no admin password hash configured; login is disabled until a teacher exists")
		return nil
	}
	_, err := s.store.TeacherByUsername(ctx, s.admin.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}
	t := &model.Teacher{Username: s.admin.Username, Name: s.admin.Name, PasswordHash: s.admin.PasswordHash}
	if err := s.store.CreateTeacher(ctx, t); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return fmt.Errorf("create admin: %w", err)
	}
	s.logger.Info(ctx, "admin teacher created", logger.String("username", t.Username))
	return nil
}

func (s *Service) log() logger.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logger.Get()
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Backend names the storage backend.
func (s *Service) Backend() string { return s.store.Backend() }

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Uptime returns how long the service has been started.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return 0
	}
	return s.now().Sub(s.startedAt)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"storage":       s.store.Backend(),
		"workerCount":   s.workerCount,
		"queueCapacity": s.queueSize,
		"maxDistanceKm": s.policy.MaxDistanceKm(),
	}
	if counts, err := s.store.Counts(ctx); err == nil {
		stats["results"] = counts.Results
		stats["attendance"] = counts.Attendance
		stats["teachers"] = counts.Teachers
	}
	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["rememberedBatches"] = s.deduper.Size()
		stats["jobs"] = s.jobs.countByState()
		metrics.UpdateQueueSize(queueLen, s.queueSize)
	}
	return stats
}
