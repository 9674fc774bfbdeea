package live

import (
	"strings"
)

const (
	// DefaultHost is the remote live API endpoint host.
	DefaultHost = "generativelanguage.googleapis.com"

	// DefaultModel is the live conversation model used when none is set.
	DefaultModel = "gemini-2.0-flash-live-001"

	// bidiPath is the websocket path of the bidirectional generate service.
	bidiPath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Voices enumerates the named voice presets accepted by the remote service.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// Config configures a live session.
type Config struct {
	// Model is the live model identifier.
	Model string

	// Voice selects one of the named reply voice presets.
	Voice string

	// SystemInstruction is the free-text system prompt for the session.
	SystemInstruction string

	// InputTranscripts requests transcription of user speech.
	InputTranscripts bool

	// OutputTranscripts requests transcription of model speech.
	OutputTranscripts bool

	// Host overrides the remote endpoint host.
	Host string

	// APIKey is a long-lived credential. Exactly one of APIKey or
	// AccessToken must be set.
	APIKey string

	// AccessToken is a short-lived ephemeral token credential.
	AccessToken string
}

func (c Config) withDefaults() Config {
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = DefaultModel
	}
	c.Voice = strings.TrimSpace(c.Voice)
	if c.Voice == "" {
		c.Voice = Voices[0]
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	return c
}

// Validate checks the config before any network attempt.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.AccessToken) == "" {
		return NewConfigurationError("no credential configured: set an API key or an ephemeral access token")
	}
	voice := strings.TrimSpace(c.Voice)
	if voice != "" && !ValidVoice(voice) {
		return NewConfigurationError("unknown voice preset " + voice)
	}
	return nil
}

// ValidVoice reports whether name is one of the known voice presets.
func ValidVoice(name string) bool {
	for _, v := range Voices {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
