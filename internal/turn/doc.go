// Package turn orchestrates one voice exchange end to end: transcription,
// context assembly, reply generation, persistence of both messages in order,
// and speech synthesis, with stage-tagged errors and text-only degradation
// when synthesis fails.
package turn
