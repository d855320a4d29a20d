// Package http_middleware provides HTTP middleware that records one
// observation per handler invocation and attaches request-scoped logging.
//
// The middleware is designed to be used with the standard library's
// net/http package and reports to a domain.Recorder.
package http_middleware
