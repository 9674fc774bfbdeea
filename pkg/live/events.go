package live

// Event is a tagged variant emitted by Session.Events(). The Transcript
// reconciler and playback scheduler consume these without touching the
// wire protocol, so both can be driven by synthetic event sequences in
// tests.
type Event interface {
	eventType() string
}

// OpenedEvent is emitted once the remote acknowledges session setup.
type OpenedEvent struct{}

func (OpenedEvent) eventType() string { return "opened" }

// AudioChunkEvent carries one decoded reply audio payload (PCM16LE at the
// playback sample rate).
type AudioChunkEvent struct {
	Data []byte
}

func (AudioChunkEvent) eventType() string { return "audio_chunk" }

// InputTranscriptEvent carries a fragment of the user's speech transcript.
type InputTranscriptEvent struct {
	Text string
}

func (InputTranscriptEvent) eventType() string { return "input_transcript" }

// OutputTranscriptEvent carries a fragment of the model's speech transcript.
type OutputTranscriptEvent struct {
	Text string
}

func (OutputTranscriptEvent) eventType() string { return "output_transcript" }

// TurnCompleteEvent marks the end of the model's turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// InterruptedEvent signals that the in-progress model reply was cut short,
// typically because the user began speaking. Pending playback must be
// flushed.
type InterruptedEvent struct{}

func (InterruptedEvent) eventType() string { return "interrupted" }

// ClosedEvent is emitted when the remote ends the session. A remote close
// is normal termination, not an error.
type ClosedEvent struct {
	Reason string
}

func (ClosedEvent) eventType() string { return "closed" }

// ErrorEvent carries a terminal remote or transport failure.
type ErrorEvent struct {
	Err *Error
}

func (ErrorEvent) eventType() string { return "error" }
