// Package broker simulates a single-symbol perpetual-futures account:
// cash, one open position, leverage, fees, and liquidation, driving the
// trade log and equity curve the backtest engine and analyzer consume.
package broker

import (
	"fmt"
	"time"
)

// Side is long or short.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position is the account's single open position, if any. StopLoss and
// TakeProfit are nil until a stop manager (or the strategy itself) sets
// them; the engine arbitrates against whichever are set each bar.
type Position struct {
	Side      Side
	Size      float64
	Entry     float64
	EntryTime time.Time

	StopLoss   *float64
	TakeProfit *float64
}

// Trade is one closed round-trip (or liquidation).
type Trade struct {
	Side         Side
	Size         float64
	Entry        float64
	Exit         float64
	EntryTime    time.Time
	ExitTime     time.Time
	PnL          float64
	Reason       string
	IsLiquidation bool
}

// EquityPoint is one mark-to-market sample.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// InsufficientFundsError means opening or growing a position would
// require more margin than the account holds in cash.
type InsufficientFundsError struct {
	Required, Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("broker: insufficient funds: required %.8f, available %.8f", e.Required, e.Available)
}

// NoPositionError is returned when close/liquidate is called while flat.
type NoPositionError struct{}

func (e *NoPositionError) Error() string { return "broker: no open position" }

// Broker holds one account's simulated state.
type Broker struct {
	Cash                   float64
	FeeRate                float64
	Leverage               float64
	MaintenanceMarginRate  float64

	position         *Position
	TradeLog         []Trade
	EquityCurve      []EquityPoint
	LiquidationEvents []Trade
}

// New builds a Broker with starting cash and the given cost/risk
// parameters. They are exported fields: the execution overlay swaps
// FeeRate for the duration of a single order.
func New(startingCash, feeRate, leverage, maintenanceMarginRate float64) *Broker {
	return &Broker{
		Cash:                  startingCash,
		FeeRate:               feeRate,
		Leverage:              leverage,
		MaintenanceMarginRate: maintenanceMarginRate,
	}
}

// Position returns the currently open position, or nil if flat.
func (b *Broker) Position() *Position { return b.position }

// Equity returns cash plus unrealized PnL of the open position (if any)
// at the given mark price.
func (b *Broker) Equity(price float64) float64 {
	if b.position == nil {
		return b.Cash
	}
	return b.Cash + b.unrealizedPnL(price)
}

func (b *Broker) unrealizedPnL(price float64) float64 {
	p := b.position
	if p.Side == Long {
		return p.Size * (price - p.Entry)
	}
	return p.Size * (p.Entry - price)
}

// margin returns the cash committed to opening a position of size at
// entry: notional / leverage.
func (b *Broker) margin(size, price float64) float64 {
	return size * price / b.Leverage
}

func (b *Broker) fee(size, price float64) float64 {
	return size * price * b.FeeRate
}

// Buy opens a long of size at price if flat, or closes a short first
// (realizing its PnL) when one is open.
func (b *Broker) Buy(size, price float64, at time.Time, reason string) error {
	if size <= 0 || price <= 0 {
		return fmt.Errorf("broker: buy requires size>0 and price>0")
	}
	if b.position != nil && b.position.Side == Short {
		if err := b.Close(price, at, reason); err != nil {
			return err
		}
	}
	if b.position != nil {
		return nil // already long; spec defines no averaging-in operation
	}
	return b.open(Long, size, price, at)
}

// Sell opens a short of size at price if flat, or closes a long first.
func (b *Broker) Sell(size, price float64, at time.Time, reason string) error {
	if size <= 0 || price <= 0 {
		return fmt.Errorf("broker: sell requires size>0 and price>0")
	}
	if b.position != nil && b.position.Side == Long {
		if err := b.Close(price, at, reason); err != nil {
			return err
		}
	}
	if b.position != nil {
		return nil
	}
	return b.open(Short, size, price, at)
}

// cashTolerance absorbs float rounding when an order sized from the
// account's full equity needs a hair more than the cash on hand.
const cashTolerance = 1e-9

func (b *Broker) open(side Side, size, price float64, at time.Time) error {
	required := b.margin(size, price) + b.fee(size, price)
	if required > b.Cash+cashTolerance {
		return &InsufficientFundsError{Required: required, Available: b.Cash}
	}
	b.Cash -= required
	b.position = &Position{Side: side, Size: size, Entry: price, EntryTime: at}
	return nil
}

// BuyAll opens a long sized to consume the account's full equity at the
// configured leverage: size = equity * leverage / (price * (1+fee_rate)).
func (b *Broker) BuyAll(price float64, at time.Time) error {
	if b.position != nil {
		return fmt.Errorf("broker: buy_all requires a flat account")
	}
	size := b.sizeForAll(price)
	return b.open(Long, size, price, at)
}

// SellAll (a.k.a. ShortAll) opens a short sized the same way as BuyAll.
func (b *Broker) SellAll(price float64, at time.Time) error {
	if b.position != nil {
		return fmt.Errorf("broker: sell_all requires a flat account")
	}
	size := b.sizeForAll(price)
	return b.open(Short, size, price, at)
}

func (b *Broker) sizeForAll(price float64) float64 {
	equity := b.Equity(price)
	return equity * b.Leverage / (price * (1 + b.FeeRate))
}

// Close realizes PnL on the open position at price and records a Trade.
func (b *Broker) Close(price float64, at time.Time, reason string) error {
	if b.position == nil {
		return &NoPositionError{}
	}
	p := b.position
	pnl := b.unrealizedPnL(price)
	fee := b.fee(p.Size, price)

	b.Cash += b.margin(p.Size, p.Entry) + pnl - fee

	b.TradeLog = append(b.TradeLog, Trade{
		Side: p.Side, Size: p.Size, Entry: p.Entry, Exit: price,
		EntryTime: p.EntryTime, ExitTime: at, PnL: pnl - fee, Reason: reason,
	})
	b.position = nil
	return nil
}

// LiquidationPrice returns the price at which the open position would be
// force-closed, or (0, false) when flat.
func (b *Broker) LiquidationPrice() (float64, bool) {
	if b.position == nil {
		return 0, false
	}
	p := b.position
	if p.Side == Long {
		return p.Entry * (1 - 1/b.Leverage + b.MaintenanceMarginRate), true
	}
	return p.Entry * (1 + 1/b.Leverage - b.MaintenanceMarginRate), true
}

// Liquidate force-closes the open position at price, applying normal fee
// accounting (not a full-margin forfeiture) and flags the Trade as a
// liquidation in both TradeLog and LiquidationEvents.
func (b *Broker) Liquidate(price float64, at time.Time) error {
	if b.position == nil {
		return &NoPositionError{}
	}
	p := b.position
	pnl := b.unrealizedPnL(price)
	fee := b.fee(p.Size, price)

	b.Cash += b.margin(p.Size, p.Entry) + pnl - fee

	trade := Trade{
		Side: p.Side, Size: p.Size, Entry: p.Entry, Exit: price,
		EntryTime: p.EntryTime, ExitTime: at, PnL: pnl - fee,
		Reason: "liquidation", IsLiquidation: true,
	}
	b.TradeLog = append(b.TradeLog, trade)
	b.LiquidationEvents = append(b.LiquidationEvents, trade)
	b.position = nil
	return nil
}

// MarkToMarket appends the current equity at price to the equity curve.
func (b *Broker) MarkToMarket(price float64, at time.Time) {
	b.EquityCurve = append(b.EquityCurve, EquityPoint{Time: at, Equity: b.Equity(price)})
}

// SetStops assigns the open position's stop-loss and/or take-profit
// levels. A nil argument leaves that level untouched; a non-nil one
// replaces it as given, in either direction. A level cannot be cleared
// once set.
func (b *Broker) SetStops(stopLoss, takeProfit *float64) error {
	if b.position == nil {
		return &NoPositionError{}
	}
	if stopLoss != nil {
		b.position.StopLoss = stopLoss
	}
	if takeProfit != nil {
		b.position.TakeProfit = takeProfit
	}
	return nil
}

// Breached reports whether the bar's low/high would have crossed the
// position's liquidation price, and the crossing price (the liquidation
// price itself, since that's where the forced close executes).
func (b *Broker) Breached(barLow, barHigh float64) (price float64, breached bool) {
	liq, ok := b.LiquidationPrice()
	if !ok {
		return 0, false
	}
	p := b.position
	if p.Side == Long && barLow <= liq {
		return liq, true
	}
	if p.Side == Short && barHigh >= liq {
		return liq, true
	}
	return 0, false
}
