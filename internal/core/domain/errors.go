package domain

import "errors"

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrSaleNotActive     = errors.New("product is not available for flash sale")
	ErrInsufficientStock = errors.New("insufficient stock available")
	ErrLockUnavailable   = errors.New("high demand, please try again")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
)
