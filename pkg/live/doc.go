// Package live implements the client side of a bidirectional voice
// session with a hosted generative live API.
//
// A Session is opened over a websocket with Connect, carries captured
// audio (and optional video frames) outbound via SendAudio and
// SendVideoFrame, and delivers inbound activity as a stream of tagged
// Event variants: reply audio chunks, input/output transcript fragments,
// turn-complete and interrupted signals, and terminal close/error
// conditions. Consumers never see the wire protocol, which makes the
// downstream playback and transcript components testable with synthetic
// event sequences.
package live
