package app

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"tuscoin/internal/oracle"
	"tuscoin/internal/service"
)

// SimulateAlert 通过给定的参考价与当前价模拟一次价格波动告警。
func (a *App) SimulateAlert(ctx context.Context, reference, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	ticker := &staticTicker{
		reference: oracle.PriceSample{Timestamp: now.Add(-a.Config.Alerting.Window), Price: reference},
		next:      oracle.PriceSample{Timestamp: now, Price: price},
	}

	svc := service.New(a.Config, nil, ticker, nil, nil, notifier, a.Logger)

	bucket := now.Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessTick(ctx, bucket)
}

// staticTicker replays a fixed reference and one fixed tick.
type staticTicker struct {
	reference oracle.PriceSample
	next      oracle.PriceSample
}

func (s *staticTicker) CurrentPrice() decimal.Decimal {
	return s.reference.Price
}

func (s *staticTicker) Tick(context.Context) oracle.PriceSample {
	return s.next
}

func (s *staticTicker) History(int) iter.Seq[oracle.PriceSample] {
	return func(yield func(oracle.PriceSample) bool) {
		if !yield(s.reference) {
			return
		}
		yield(s.next)
	}
}

var _ service.PriceTicker = (*staticTicker)(nil)
