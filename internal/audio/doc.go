// Package audio provides container sniffing and WAV inspection for validating
// voice-loop payloads before any external call or database write happens.
package audio
