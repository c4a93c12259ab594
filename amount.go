package gobtcmini

import "github.com/shopspring/decimal"

const satoshiExponent = -8

// satsToBTC converts satoshis to BTC without accumulating float error.
func satsToBTC(sats int64) float64 {
	return decimal.New(sats, satoshiExponent).InexactFloat64()
}
