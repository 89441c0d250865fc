package clientdata

import "time"

// TTL constants for the base_cache and exchange_cache tables.
const (
	TTLHotStream  = 60 * time.Second      // base_cache: hot-temperature stream value
	TTLWarmStream = 30 * time.Minute      // base_cache: warm-temperature stream value
	TTLBalances   = 2 * time.Minute       // exchange_cache: account balances
	TTLPositions  = 2 * time.Minute       // exchange_cache: open positions
	TTLTicker     = 10 * time.Second      // exchange_cache: last-price ticker
)
