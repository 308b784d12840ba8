package models

import "time"

// PricePoint is one historical close.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered, immutable run of closes.
type PriceSeries struct {
	Source string
	Points []PricePoint
}

// Len returns the number of points.
func (s PriceSeries) Len() int { return len(s.Points) }

// Closes returns the closing prices in order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// Head returns the series limited to its first n points.
func (s PriceSeries) Head(n int) PriceSeries {
	if n <= 0 || n >= len(s.Points) {
		return s
	}
	return PriceSeries{Source: s.Source, Points: s.Points[:n]}
}

// ScaledWindow is one training/inference example: Input holds lookback
// normalized values and Target the value that follows them.
type ScaledWindow struct {
	Input  []float64
	Target float64
}
