// Package utils provides numeric and identifier helpers for the trading controller.
package utils

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var lamportsPerSol = decimal.NewFromInt(1_000_000_000)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	id := uuid.NewString()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// GenerateEventID generates a unique event ID.
func GenerateEventID() string {
	return GenerateID("evt")
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamp bounds value to [min, max]. Non-finite values collapse to min.
func Clamp(value, min, max float64) float64 {
	if !IsFinite(value) {
		return min
	}
	return math.Min(max, math.Max(min, value))
}

// Clamp01 bounds value to [0, 1].
func Clamp01(value float64) float64 {
	return Clamp(value, 0, 1)
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation, 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Median returns the median of values, 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// PercentChange returns the fractional change from previous to current.
func PercentChange(current, previous float64) float64 {
	if previous == 0 || !IsFinite(previous) || !IsFinite(current) {
		return 0
	}
	return (current - previous) / previous
}

// RoundTo rounds value to the given number of decimal places.
func RoundTo(value float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}

// SolToLamports converts a SOL amount to lamports, rounding down.
func SolToLamports(sol float64) uint64 {
	if !IsFinite(sol) || sol <= 0 {
		return 0
	}
	return uint64(decimal.NewFromFloat(sol).Mul(lamportsPerSol).Floor().IntPart())
}

// LamportsToSol converts a lamport amount to SOL.
func LamportsToSol(lamports uint64) float64 {
	f, _ := decimal.NewFromInt(int64(lamports)).Div(lamportsPerSol).Float64()
	return f
}

// RawLamportsToSol converts a decimal lamport string to SOL. Invalid input yields 0.
func RawLamportsToSol(raw string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return 0
	}
	f, _ := d.Div(lamportsPerSol).Float64()
	return f
}

// ParseRawAmount parses a raw integer token amount. Missing or invalid input yields false.
func ParseRawAmount(raw string) (uint64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() || !d.Equal(d.Floor()) {
		return 0, false
	}
	return uint64(d.IntPart()), true
}

// FormatSol renders a SOL amount with fixed precision.
func FormatSol(sol float64) string {
	return decimal.NewFromFloat(sol).StringFixed(4)
}

// StartOfUTCDay returns midnight UTC for the day containing t.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FromMillis converts a unix millisecond timestamp to time.
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
