package domain

import "fmt"

// ConfigurationError reports an invalid setting detected at startup.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "configuration error"
	}
	msg := fmt.Sprintf("invalid configuration %s=%q", e.Field, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError reports a failed push to the collector.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "metrics transport error"
	}
	return fmt.Sprintf("metrics transport error (%s): %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
