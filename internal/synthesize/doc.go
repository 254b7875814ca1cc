// Package synthesize turns assistant reply text into spoken MP3 audio
// through an HTTP text-to-speech backend, with bounded concurrency and an
// error taxonomy that lets callers degrade to text-only responses.
package synthesize
