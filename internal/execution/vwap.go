package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// HourWeight is one bucket of a VWAP hourly volume profile: the fraction
// of the parent quantity to execute during the given hour of day (spec
// §4.4). Weights need not sum to 1; Vwap normalizes them across whichever
// hours actually fall within [Start, End).
type HourWeight struct {
	Hour   int // 0-23, UTC hour of day
	Weight decimal.Decimal
}

// VwapConfig parameterizes one VWAP parent intent (spec §4.4).
type VwapConfig struct {
	Symbol         types.Symbol
	Side           types.Side
	TotalQuantity  types.Quantity
	Start          time.Time
	End            time.Time
	HourlyProfile  []HourWeight
	MinSlice       types.Quantity
	PriceOffsetBps int
	SliceTimeout   time.Duration
}

// VwapResult is the completed run's summary (spec §4.4).
type VwapResult struct {
	TotalExecuted    types.Quantity
	AveragePrice     decimal.Decimal
	SlicesExecuted   int
	TotalDuration    time.Duration
	VwapDeviationBps decimal.Decimal
	SliceDetails     []SliceExecution
}

// Vwap drives one VWAP parent intent to completion, sizing each hourly
// slice proportionally to the configured volume profile rather than
// splitting time evenly the way Twap does.
type Vwap struct {
	cfg    VwapConfig
	sub    OrderSubmitter
	price  PriceFunc
	state  StateFunc
	logger *slog.Logger
}

// NewVwap creates a Vwap executor.
func NewVwap(cfg VwapConfig, sub OrderSubmitter, price PriceFunc, state StateFunc, logger *slog.Logger) *Vwap {
	if cfg.SliceTimeout == 0 {
		cfg.SliceTimeout = time.Hour
	}
	return &Vwap{cfg: cfg, sub: sub, price: price, state: state, logger: logger.With("component", "execution.vwap")}
}

type vwapBucket struct {
	at  time.Time
	qty decimal.Decimal
}

// buildBuckets walks every hour boundary in [Start, End) in chronological
// order, looks up its weight in HourlyProfile (0 if absent), and allocates
// TotalQuantity across the weighted hours per spec §4.4 step 2b:
// slice_qty = max(min_slice, min(ratio·total_qty, remaining)). MinSlice is
// a floor, not a cutoff — a too-thin or zero-weight hour still gets at
// least MinSlice (forcing more, smaller-than-ideal slices) rather than
// being dropped; each bucket consumes the running remaining quantity so a
// run of forced minimum slices can only ever add slices, never invent
// quantity beyond what a caller's MinSlice choice deliberately forces.
func (v *Vwap) buildBuckets() []vwapBucket {
	weightByHour := make(map[int]decimal.Decimal, len(v.cfg.HourlyProfile))
	for _, hw := range v.cfg.HourlyProfile {
		weightByHour[hw.Hour] = weightByHour[hw.Hour].Add(hw.Weight)
	}

	var weighted []vwapBucket
	totalWeight := decimal.Zero
	for ts := v.cfg.Start; ts.Before(v.cfg.End); ts = ts.Add(time.Hour) {
		w := weightByHour[ts.UTC().Hour()]
		if w.Sign() <= 0 {
			continue
		}
		weighted = append(weighted, vwapBucket{at: ts, qty: w})
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() || len(weighted) == 0 {
		// No configured hour falls inside the window: fall back to a single
		// bucket at Start so the parent quantity still executes.
		return []vwapBucket{{at: v.cfg.Start, qty: v.cfg.TotalQuantity.Decimal()}}
	}

	qtyTotal := v.cfg.TotalQuantity.Decimal()
	minSlice := v.cfg.MinSlice.Decimal()
	remaining := qtyTotal
	out := make([]vwapBucket, 0, len(weighted))
	for _, b := range weighted {
		ratio := b.qty.Div(totalWeight)
		sliceQty := decimal.Min(ratio.Mul(qtyTotal), remaining)
		if sliceQty.LessThan(minSlice) {
			sliceQty = minSlice
		}
		if sliceQty.Sign() <= 0 {
			continue
		}
		out = append(out, vwapBucket{at: b.at, qty: sliceQty})
		remaining = remaining.Sub(sliceQty)
		if remaining.Sign() < 0 {
			remaining = decimal.Zero
		}
	}
	if len(out) == 0 {
		return []vwapBucket{{at: v.cfg.Start, qty: qtyTotal}}
	}
	return out
}

// Run executes every hourly bucket in chronological order and returns the
// aggregate result, including deviation against the observed reference
// VWAP (the volume-weighted average of market prices sampled at each
// slice's execution time).
func (v *Vwap) Run(ctx context.Context) (*VwapResult, error) {
	buckets := v.buildBuckets()

	events, unsub := v.sub.SubscribeEvents()
	defer unsub()

	start := time.Now()
	result := &VwapResult{SliceDetails: make([]SliceExecution, 0, len(buckets))}

	var refNotional, refQty decimal.Decimal
	for _, b := range buckets {
		if err := sleepUntil(ctx, b.at); err != nil {
			break
		}

		qty, err := types.NewQuantity(b.qty)
		if err != nil || qty.IsZero() {
			continue
		}

		current, err := v.price(v.cfg.Symbol)
		if err != nil {
			result.SliceDetails = append(result.SliceDetails, SliceExecution{TargetQty: qty, Timestamp: b.at, Success: false, FailReason: err.Error()})
			continue
		}
		refNotional = refNotional.Add(current.Decimal().Mul(qty.Decimal()))
		refQty = refQty.Add(qty.Decimal())

		limitPrice, err := offsetPrice(current, v.cfg.Side, v.cfg.PriceOffsetBps)
		if err != nil {
			result.SliceDetails = append(result.SliceDetails, SliceExecution{TargetQty: qty, Price: current, Timestamp: b.at, Success: false, FailReason: err.Error()})
			continue
		}

		order := types.NewOrderBuilder(v.cfg.Symbol, v.cfg.Side, qty).
			WithLimitPrice(limitPrice).
			Build(time.Now())

		id, err := v.sub.SubmitOrder(ctx, order, current, v.state())
		if err != nil {
			result.SliceDetails = append(result.SliceDetails, SliceExecution{TargetQty: qty, Price: current, Timestamp: b.at, Success: false, FailReason: err.Error()})
			continue
		}

		sliceCtx, cancel := context.WithTimeout(ctx, v.cfg.SliceTimeout)
		evt, ok := awaitTerminal(sliceCtx, events, id)
		cancel()
		if !ok {
			_ = v.sub.CancelOrder(context.Background(), id)
			result.SliceDetails = append(result.SliceDetails, SliceExecution{TargetQty: qty, Price: current, Timestamp: b.at, Success: false, FailReason: "slice timeout"})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		final, _ := v.sub.GetOrder(id)
		_ = evt
		exec := SliceExecution{TargetQty: qty, ExecutedQty: final.FilledQuantity, Price: final.AvgFillPrice, Timestamp: time.Now(), Success: !final.FilledQuantity.IsZero()}
		if exec.Success {
			result.SlicesExecuted++
		} else {
			exec.FailReason = "no fill observed"
		}
		result.SliceDetails = append(result.SliceDetails, exec)
	}

	var executedQty decimal.Decimal
	for _, s := range result.SliceDetails {
		executedQty = executedQty.Add(s.ExecutedQty.Decimal())
	}
	if q, err := types.NewQuantity(executedQty); err == nil {
		result.TotalExecuted = q
	}
	result.AveragePrice = volumeWeightedAverage(result.SliceDetails)
	result.TotalDuration = time.Since(start)

	if !refQty.IsZero() && !result.AveragePrice.IsZero() {
		refVwap := refNotional.Div(refQty)
		if !refVwap.IsZero() {
			result.VwapDeviationBps = result.AveragePrice.Sub(refVwap).Div(refVwap).Mul(decimal.NewFromInt(10000))
		}
	}
	return result, nil
}
