package domain

import "errors"

var (
	ErrInvalidFeature = errors.New("invalid_feature")
	ErrInvalidCatalog = errors.New("invalid_pricing_catalog")
)
