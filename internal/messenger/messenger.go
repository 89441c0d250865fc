// Package messenger defines the outbound-message capability the core
// consumes. Concrete chat-platform implementations are out of scope; a
// send failure is always logged, never propagated to the caller.
package messenger

import (
	"context"

	"github.com/rs/zerolog"
)

// Keyboard is an optional set of quick-reply / inline-action labels shown
// alongside a text message (e.g. a signal's feedback-request control
// surface, or a trade's confirm/deny control surface).
type Keyboard struct {
	Buttons []string
}

// Messenger is the narrow outbound capability the core depends on.
type Messenger interface {
	SendText(ctx context.Context, recipient, text string, keyboard *Keyboard) error
	SendPhoto(ctx context.Context, recipient string, image []byte, caption string) error
	EditText(ctx context.Context, handle, text string) error
}

// LoggingMessenger is a Messenger that only logs, for use when no concrete
// chat-platform adapter is wired (e.g. local development).
type LoggingMessenger struct {
	log zerolog.Logger
}

// New builds a LoggingMessenger.
func New(log zerolog.Logger) *LoggingMessenger {
	return &LoggingMessenger{log: log.With().Str("component", "messenger").Logger()}
}

// SendText implements Messenger.
func (m *LoggingMessenger) SendText(_ context.Context, recipient, text string, keyboard *Keyboard) error {
	m.log.Info().Str("recipient", recipient).Str("text", text).Msg("send text")
	return nil
}

// SendPhoto implements Messenger.
func (m *LoggingMessenger) SendPhoto(_ context.Context, recipient string, image []byte, caption string) error {
	m.log.Info().Str("recipient", recipient).Int("bytes", len(image)).Str("caption", caption).Msg("send photo")
	return nil
}

// EditText implements Messenger.
func (m *LoggingMessenger) EditText(_ context.Context, handle, text string) error {
	m.log.Info().Str("handle", handle).Str("text", text).Msg("edit text")
	return nil
}
