// Package http_reporter provides an HTTP handler for exposing the cumulative
// request metrics in JSON format. It is meant for humans and ad-hoc tooling;
// the collector receives the same data through the OTLP pipeline.
package http_reporter
