// Package server exposes the HTTP API: the voice turn endpoint that accepts
// utterance audio and returns a spoken reply, plus health, configuration,
// statistics and Prometheus metrics endpoints.
package server
