package types

import (
	"time"
)

// TradeSide is the direction of a recorded trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Position is a durable open position.
type Position struct {
	Mint            string                 `json:"mint"`
	Symbol          string                 `json:"symbol"`
	QtyRaw          string                 `json:"qtyRaw"`
	AmountSol       float64                `json:"amountSol"`
	Strategies      []string               `json:"strategies"`
	OpenedAt        time.Time              `json:"openedAt"`
	HighestValueSol float64                `json:"highestValueSol"`
	StopLossSol     float64                `json:"stopLossSol"`
	TakeProfitSol   float64                `json:"takeProfitSol"`
	TrailingStopSol float64                `json:"trailingStopSol"`
	Mode            TradeMode              `json:"mode"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Trade is an append-only trade record.
type Trade struct {
	ID         string                 `json:"id"`
	Mint       string                 `json:"mint"`
	Symbol     string                 `json:"symbol"`
	Side       TradeSide              `json:"side"`
	AmountSol  float64                `json:"amountSol"`
	QtyRaw     string                 `json:"qtyRaw"`
	PnlSol     *float64               `json:"pnlSol,omitempty"`
	Mode       TradeMode              `json:"mode"`
	Strategies []string               `json:"strategies"`
	Status     string                 `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	TxSig      string                 `json:"txSig,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// Event is an append-only diagnostic record.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// StrategyStat is the rolling performance record of one strategy.
type StrategyStat struct {
	StrategyID     string    `json:"strategyId"`
	Mode           TradeMode `json:"mode"`
	TotalTrades    int       `json:"totalTrades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"winRate"`
	PnlSol         float64   `json:"pnlSol"`
	MaxDrawdownPct float64   `json:"maxDrawdownPct"`
	ShadowTrades   int       `json:"shadowTrades"`
	LiveTrades     int       `json:"liveTrades"`
	FirstTradeAt   time.Time `json:"firstTradeAt"`
	LastTradeAt    time.Time `json:"lastTradeAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EquitySnapshot is a point-in-time equity reading.
type EquitySnapshot struct {
	EquitySol   float64   `json:"equitySol"`
	PnlSol      float64   `json:"pnlSol"`
	DrawdownPct float64   `json:"drawdownPct"`
	CreatedAt   time.Time `json:"createdAt"`
}
