package orderbook

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrWrongSymbol   = errors.New("order symbol does not match book")
)
