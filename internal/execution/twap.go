package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/eventbus"
	"quanttrade/internal/types"
)

// TwapConfig parameterizes one TWAP parent intent (spec §4.4).
type TwapConfig struct {
	Symbol            types.Symbol
	Side              types.Side
	TotalQuantity     types.Quantity
	Duration          time.Duration
	SliceInterval     time.Duration
	RandomizationPct  decimal.Decimal // fraction in [0, 0.25], e.g. 0.1 for 10%
	BaseOrderType     types.OrderType // Limit by default
	PriceOffsetBps    int
	AggressiveOnFinal bool
	SliceTimeout      time.Duration
}

// TwapResult is the completed run's summary (spec §4.4 step 5).
type TwapResult struct {
	TotalExecuted  types.Quantity
	AveragePrice   decimal.Decimal
	SlicesExecuted int
	SlicesFailed   int
	TotalDuration  time.Duration
	SliceDetails   []SliceExecution
}

// Twap drives one TWAP parent intent to completion.
type Twap struct {
	cfg    TwapConfig
	sub    OrderSubmitter
	price  PriceFunc
	state  StateFunc
	logger *slog.Logger
	rng    *rand.Rand
}

// NewTwap creates a Twap executor.
func NewTwap(cfg TwapConfig, sub OrderSubmitter, price PriceFunc, state StateFunc, logger *slog.Logger) *Twap {
	if cfg.SliceTimeout == 0 {
		cfg.SliceTimeout = cfg.SliceInterval
	}
	return &Twap{
		cfg:    cfg,
		sub:    sub,
		price:  price,
		state:  state,
		logger: logger.With("component", "execution.twap"),
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Run executes every slice in sequence and returns the aggregate result.
// It returns early (with whatever slices completed) if ctx is cancelled;
// per spec §4.4, a cancelled run cancels its current outstanding child.
func (t *Twap) Run(ctx context.Context) (*TwapResult, error) {
	sliceCount := int(math.Ceil(t.cfg.Duration.Seconds() / t.cfg.SliceInterval.Seconds()))
	if sliceCount < 1 {
		sliceCount = 1
	}
	baseSlice := t.cfg.TotalQuantity.Decimal().Div(decimal.NewFromInt(int64(sliceCount)))

	events, unsub := t.sub.SubscribeEvents()
	defer unsub()

	start := time.Now()
	result := &TwapResult{SliceDetails: make([]SliceExecution, 0, sliceCount)}
	remaining := t.cfg.TotalQuantity

	for i := 0; i < sliceCount; i++ {
		if remaining.IsZero() {
			break
		}
		if i > 0 {
			target := start.Add(time.Duration(i) * t.cfg.SliceInterval)
			if err := sleepUntil(ctx, target); err != nil {
				break
			}
		}

		slice, err := t.runSlice(ctx, events, i, sliceCount, baseSlice, remaining)
		result.SliceDetails = append(result.SliceDetails, slice)
		if err != nil {
			t.logger.Warn("twap slice cancelled", "slice", i, "error", err)
			break
		}

		if slice.Success {
			result.SlicesExecuted++
			newRemaining, subErr := remaining.Sub(slice.ExecutedQty)
			if subErr == nil {
				remaining = newRemaining
			} else {
				remaining = types.ZeroQuantity()
			}
		} else {
			result.SlicesFailed++
		}
	}

	result.TotalExecuted = t.cfg.TotalQuantity
	if !remaining.IsZero() {
		executed, err := t.cfg.TotalQuantity.Sub(remaining)
		if err == nil {
			result.TotalExecuted = executed
		}
	}
	result.AveragePrice = volumeWeightedAverage(result.SliceDetails)
	result.TotalDuration = time.Since(start)
	return result, nil
}

func (t *Twap) runSlice(ctx context.Context, events <-chan eventbus.OrderEvent, i, sliceCount int, baseSlice decimal.Decimal, remaining types.Quantity) (SliceExecution, error) {
	now := time.Now()

	randFactor := 1.0
	if t.cfg.RandomizationPct.Sign() > 0 {
		pct, _ := t.cfg.RandomizationPct.Float64()
		randFactor = 1 - pct + t.rng.Float64()*2*pct
	}
	sliceQty := baseSlice.Mul(decimal.NewFromFloat(randFactor))
	if sliceQty.GreaterThan(remaining.Decimal()) {
		sliceQty = remaining.Decimal()
	}
	qty, err := types.NewQuantity(sliceQty)
	if err != nil || qty.IsZero() {
		return SliceExecution{TargetQty: qty, Timestamp: now, Success: false, FailReason: "degenerate slice size"}, nil
	}

	orderType := t.cfg.BaseOrderType
	if orderType == "" {
		orderType = types.OrderLimit
	}
	isFinal := i == sliceCount-1
	if isFinal && t.cfg.AggressiveOnFinal {
		orderType = types.OrderMarket
	}

	current, err := t.price(t.cfg.Symbol)
	if err != nil {
		return SliceExecution{TargetQty: qty, Timestamp: now, Success: false, FailReason: err.Error()}, nil
	}

	var limitPrice *types.Price
	if orderType != types.OrderMarket {
		p, err := offsetPrice(current, t.cfg.Side, t.cfg.PriceOffsetBps)
		if err != nil {
			return SliceExecution{TargetQty: qty, Price: current, Timestamp: now, Success: false, FailReason: err.Error()}, nil
		}
		limitPrice = &p
	}

	builder := types.NewOrderBuilder(t.cfg.Symbol, t.cfg.Side, qty)
	if limitPrice != nil {
		builder = builder.WithLimitPrice(*limitPrice).WithType(orderType)
	} else {
		builder = builder.WithType(orderType)
	}
	order := builder.Build(now)

	id, err := t.sub.SubmitOrder(ctx, order, current, t.state())
	if err != nil {
		return SliceExecution{TargetQty: qty, Price: current, Timestamp: now, Success: false, FailReason: err.Error()}, nil
	}

	sliceCtx, cancel := context.WithTimeout(ctx, t.cfg.SliceTimeout)
	defer cancel()
	evt, ok := awaitTerminal(sliceCtx, events, id)
	if !ok {
		if ctx.Err() != nil {
			_ = t.sub.CancelOrder(context.Background(), id)
			return SliceExecution{TargetQty: qty, Price: current, Timestamp: now, Success: false, FailReason: "execution cancelled"}, ctx.Err()
		}
		_ = t.sub.CancelOrder(context.Background(), id)
		return SliceExecution{TargetQty: qty, Price: current, Timestamp: now, Success: false, FailReason: "slice timeout"}, nil
	}

	final, _ := t.sub.GetOrder(id)
	success := evt.Type == eventbus.EvOrderFilled || evt.Type == eventbus.EvOrderPartiallyFilled
	exec := SliceExecution{TargetQty: qty, ExecutedQty: final.FilledQuantity, Price: final.AvgFillPrice, Timestamp: time.Now(), Success: success}
	if !success {
		exec.FailReason = fmt.Sprintf("terminal event %s", evt.Type)
	}
	return exec, nil
}

func sleepUntil(ctx context.Context, target time.Time) error {
	d := time.Until(target)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
