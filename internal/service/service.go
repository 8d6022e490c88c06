package service

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tuscoin/internal/alerting"
	"tuscoin/internal/config"
	"tuscoin/internal/oracle"
	"tuscoin/internal/scheduler"
	"tuscoin/internal/storage"
)

const (
	day        = 24 * time.Hour
	pruneEvery = time.Hour
)

var hundred = decimal.NewFromInt(100)

// PriceTicker is the slice of the oracle the service drives.
type PriceTicker interface {
	CurrentPrice() decimal.Decimal
	Tick(ctx context.Context) oracle.PriceSample
	History(days int) iter.Seq[oracle.PriceSample]
}

// Service orchestrates price ticks, archiving, and price-move alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	oracle     PriceTicker
	store      storage.PriceSampleStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger
	now        func() time.Time

	threshold decimal.Decimal
	window    time.Duration
	cooldown  time.Duration
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
	retention time.Duration

	mu          sync.Mutex
	lastAlertAt time.Time
	lastPrune   time.Time
}

// New constructs the tick service. store, alertStore and notifier may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, ticker PriceTicker, store storage.PriceSampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		oracle:     ticker,
		store:      store,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
		threshold:  threshold,
		window:     cfg.Alerting.Window,
		cooldown:   cfg.Alerting.Cooldown,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		retention:  time.Duration(cfg.Oracle.RetentionDays) * day,
	}
}

// Run begins the tick loop and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次价格步进: 随机游走, 归档, 告警判断。
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, bucket)
}

func (s *Service) executeTick(ctx context.Context, bucket time.Time) error {
	if s.oracle == nil {
		return fmt.Errorf("price oracle not configured")
	}

	previous := s.oracle.CurrentPrice()
	sample := s.oracle.Tick(ctx)
	change := percentChange(previous, sample.Price)

	if s.store != nil {
		record := storage.PriceSample{
			Bucket:        bucket,
			Price:         sample.Price,
			PreviousPrice: previous,
			ChangePct:     change,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.store.UpsertPriceSample(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert price sample")
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("price", sample.Price.StringFixed(2)).
		Str("change_pct", change.StringFixed(4)).
		Msg("price sample recorded")

	s.evaluateAlert(ctx, sample)
	s.pruneArchive(ctx, sample.Timestamp)
	return nil
}

// pruneArchive drops archived samples and alerts older than the retention
// window, at most once per hour.
func (s *Service) pruneArchive(ctx context.Context, now time.Time) {
	if s.retention <= 0 || s.store == nil {
		return
	}
	s.mu.Lock()
	due := now.Sub(s.lastPrune) >= pruneEvery
	if due {
		s.lastPrune = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	cutoff := now.Add(-s.retention)
	if err := s.store.DeleteSamplesBefore(ctx, cutoff); err != nil {
		s.logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune price samples")
	}
	if s.alertStore != nil {
		if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
			s.logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune alerts")
		}
	}
}

// evaluateAlert compares sample against the price one window ago.
func (s *Service) evaluateAlert(ctx context.Context, sample oracle.PriceSample) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}

	refAt, ref, ok := s.reference(ctx, sample.Timestamp.Add(-s.window))
	if !ok || ref.IsZero() {
		s.logger.Debug().Dur("window", s.window).Msg("no reference price for alert window yet")
		return
	}

	move := percentChange(ref, sample.Price)
	if !move.Abs().GreaterThan(s.threshold) {
		return
	}
	if s.coolingDown(ctx, sample.Timestamp) {
		s.logger.Debug().Str("change_pct", move.StringFixed(2)).Msg("alert suppressed by cooldown")
		return
	}

	direction := classifyMove(move)
	note := alerting.Notification{
		SampledAt:    sample.Timestamp,
		Price:        sample.Price,
		ReferenceAt:  refAt,
		Reference:    ref,
		ChangePct:    move,
		ThresholdPct: s.threshold,
		Window:       s.window,
		Direction:    direction,
		Channels:     s.channels,
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			SampleTS:     sample.Timestamp,
			Price:        sample.Price,
			ReferenceTS:  refAt,
			Reference:    ref,
			ChangePct:    move,
			ThresholdPct: s.threshold,
			Direction:    direction,
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("sampled_at", sample.Timestamp).Msg("failed to persist alert record")
		}
	}

	s.mu.Lock()
	s.lastAlertAt = sample.Timestamp
	s.mu.Unlock()

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("sampled_at", sample.Timestamp).Msg("failed to dispatch alert")
	}
}

// reference finds the newest price at or before cutoff, preferring the archive.
func (s *Service) reference(ctx context.Context, cutoff time.Time) (time.Time, decimal.Decimal, bool) {
	if s.store != nil {
		archived, found, err := s.store.SampleAtOrBefore(ctx, cutoff)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("archive lookup failed, falling back to local history")
		case found:
			return archived.Bucket, archived.Price, true
		}
	}

	days := int(s.window/day) + 1
	var (
		at    time.Time
		price decimal.Decimal
		found bool
	)
	for sample := range s.oracle.History(days) {
		if sample.Timestamp.After(cutoff) {
			break
		}
		at, price, found = sample.Timestamp, sample.Price, true
	}
	return at, price, found
}

func (s *Service) coolingDown(ctx context.Context, at time.Time) bool {
	if s.cooldown <= 0 {
		return false
	}

	s.mu.Lock()
	last := s.lastAlertAt
	s.mu.Unlock()

	if s.alertStore != nil {
		record, found, err := s.alertStore.LastAlert(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load last alert")
		} else if found && record.SampleTS.After(last) {
			last = record.SampleTS
		}
	}
	return !last.IsZero() && at.Sub(last) < s.cooldown
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func percentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred).Round(4)
}

func classifyMove(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}
