package domain

import "errors"

// ErrInvalidContract indicates that a contract definition failed validation.
var ErrInvalidContract = errors.New("invalid contract definition")

// ErrInvalidServiceDescriptor indicates that a service descriptor is unusable.
var ErrInvalidServiceDescriptor = errors.New("invalid service descriptor")

// ErrInvalidBudget indicates that resource budget limits are invalid.
var ErrInvalidBudget = errors.New("invalid resource budget")

// ErrInvalidOperationMetadata indicates that operation metadata is inconsistent.
var ErrInvalidOperationMetadata = errors.New("invalid operation metadata")
