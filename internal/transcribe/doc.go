// Package transcribe converts recorded utterance audio to text through a
// local faster-whisper server, validating payloads before any side effect.
package transcribe
