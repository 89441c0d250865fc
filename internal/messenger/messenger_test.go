package messenger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggingMessenger_SendTextNeverErrors(t *testing.T) {
	m := New(zerolog.Nop())
	err := m.SendText(context.Background(), "user-1", "stay disciplined", &Keyboard{Buttons: []string{"ok"}})
	assert.NoError(t, err)
}

func TestLoggingMessenger_SendPhotoNeverErrors(t *testing.T) {
	m := New(zerolog.Nop())
	err := m.SendPhoto(context.Background(), "user-1", []byte{1, 2, 3}, "chart")
	assert.NoError(t, err)
}

func TestLoggingMessenger_EditTextNeverErrors(t *testing.T) {
	m := New(zerolog.Nop())
	err := m.EditText(context.Background(), "msg-42", "updated text")
	assert.NoError(t, err)
}

func TestLoggingMessenger_ImplementsMessenger(t *testing.T) {
	var _ Messenger = New(zerolog.Nop())
}
