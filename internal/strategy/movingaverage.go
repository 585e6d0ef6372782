package strategy

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"quanttrade/internal/types"
)

// MovingAverageCrossoverConfig configures MovingAverageCrossover.
type MovingAverageCrossoverConfig struct {
	FastPeriod int             `json:"fast_period"`
	SlowPeriod int             `json:"slow_period"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// movingAverageState is the opaque payload (de)serialized by
// SerializeState/DeserializeState.
type movingAverageState struct {
	Closes []string `json:"closes"`
}

// MovingAverageCrossover emits Buy when the fast simple moving average is
// above the slow one, Sell otherwise (spec §8 scenario 6: "Buy if MA(5) >
// MA(20) else Sell"). It is the reference Strategy used to exercise the
// backtest engine's determinism property: given identical input, two
// runs must produce byte-identical output.
type MovingAverageCrossover struct {
	cfg MovingAverageCrossoverConfig

	closes  []decimal.Decimal
	symbol  types.Symbol
	metrics PerformanceMetrics
}

// NewMovingAverageCrossover creates a strategy with the given periods.
func NewMovingAverageCrossover(fastPeriod, slowPeriod int, quantity decimal.Decimal) *MovingAverageCrossover {
	return &MovingAverageCrossover{
		cfg: MovingAverageCrossoverConfig{FastPeriod: fastPeriod, SlowPeriod: slowPeriod, Quantity: quantity},
	}
}

func (s *MovingAverageCrossover) Initialize(configJSON []byte) error {
	if len(configJSON) == 0 {
		return nil
	}
	var cfg MovingAverageCrossoverConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return err
	}
	if cfg.FastPeriod > 0 {
		s.cfg = cfg
	}
	return nil
}

func (s *MovingAverageCrossover) OnMarketData(event MarketEvent) {
	if event.Type != EventCandle || event.Candle == nil {
		return
	}
	s.symbol = event.Symbol
	s.closes = append(s.closes, event.Candle.Close.Decimal())

	maxLen := s.cfg.SlowPeriod
	if s.cfg.FastPeriod > maxLen {
		maxLen = s.cfg.FastPeriod
	}
	if len(s.closes) > maxLen*4 {
		s.closes = s.closes[len(s.closes)-maxLen*4:]
	}
}

func sma(closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if len(closes) < period {
		return decimal.Zero, false
	}
	window := closes[len(closes)-period:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

func (s *MovingAverageCrossover) GenerateSignal() types.Signal {
	fast, fastOK := sma(s.closes, s.cfg.FastPeriod)
	slow, slowOK := sma(s.closes, s.cfg.SlowPeriod)
	if !fastOK || !slowOK {
		s.metrics.SignalsEmitted++
		return types.Signal{Type: types.SignalHold}
	}

	var qty *types.Quantity
	if s.cfg.Quantity.Sign() > 0 {
		if q, err := types.NewQuantity(s.cfg.Quantity); err == nil {
			qty = &q
		}
	}

	s.metrics.SignalsEmitted++
	if fast.GreaterThan(slow) {
		return types.Signal{Type: types.SignalBuy, SuggestedQuantity: qty}
	}
	return types.Signal{Type: types.SignalSell, SuggestedQuantity: qty}
}

func (s *MovingAverageCrossover) OnOrderFill(order types.Order) {
	s.metrics.FillsObserved++
}

func (s *MovingAverageCrossover) OnOrderReject(order types.Order, reason string) {
	s.metrics.RejectsObserved++
}

func (s *MovingAverageCrossover) GetMetrics() PerformanceMetrics { return s.metrics }

func (s *MovingAverageCrossover) SerializeState() ([]byte, error) {
	state := movingAverageState{Closes: make([]string, len(s.closes))}
	for i, c := range s.closes {
		state.Closes[i] = c.String()
	}
	return json.Marshal(state)
}

func (s *MovingAverageCrossover) DeserializeState(data []byte) error {
	var state movingAverageState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	closes := make([]decimal.Decimal, 0, len(state.Closes))
	for _, raw := range state.Closes {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		closes = append(closes, d)
	}
	s.closes = closes
	return nil
}

func (s *MovingAverageCrossover) Shutdown() {}
