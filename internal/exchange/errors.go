package exchange

import "fmt"

// ExchangeAPIError wraps a transport/protocol failure from a venue.
type ExchangeAPIError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *ExchangeAPIError) Error() string {
	return fmt.Sprintf("exchange: %s %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *ExchangeAPIError) Unwrap() error { return e.Err }

// DataFormatError means the venue's response could not be parsed.
type DataFormatError struct {
	Exchange string
	Detail   string
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("exchange: %s returned unparseable data: %s", e.Exchange, e.Detail)
}

// SymbolNotFoundError means the venue has no such symbol. Never retried.
type SymbolNotFoundError struct {
	Exchange string
	Symbol   string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("exchange: symbol %q not found on %s", e.Symbol, e.Exchange)
}

// RateLimitExceededError surfaces only after retries are exhausted.
type RateLimitExceededError struct {
	Exchange string
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("exchange: rate limit exceeded on %s after retries", e.Exchange)
}

// NotSupportedError is returned when a venue does not implement a capability.
type NotSupportedError struct {
	Exchange   string
	Capability string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("exchange: %s does not support %s", e.Exchange, e.Capability)
}
