// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"strings"
	"unicode"

	"nosmobile/internal/models"
	"nosmobile/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds service inputs filled with fake but plausible data.
type Factory struct {
	faker *gofakeit.Faker
}

// NewFactory creates a Factory. A zero seed picks a random one.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// BuildUser returns a registration input with a unique-looking username.
func (f *Factory) BuildUser() service.RegisterInput {
	// Some generated last names carry apostrophes.
	username := strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return -1
	}, f.faker.Username()) + fmt.Sprintf("%d", f.faker.Number(100, 999))
	return service.RegisterInput{
		Username:    username,
		DisplayName: f.faker.Name(),
		Phone:       f.faker.Phone(),
		Avatar:      fmt.Sprintf("avatars/%s.jpg", f.faker.UUID()),
	}
}

// BuildGroupName returns a short group name.
func (f *Factory) BuildGroupName() string {
	return fmt.Sprintf("%s %s", f.faker.HipsterWord(), f.faker.Noun())
}

// BuildMessage returns a message from senderID in conversationID. Most
// messages are text; the rest cover the other content types.
func (f *Factory) BuildMessage(senderID, conversationID string) service.SendMessageInput {
	in := service.SendMessageInput{
		SenderID:       senderID,
		ConversationID: conversationID,
		Type:           models.MessageText,
	}

	switch roll := f.faker.Number(1, 20); {
	case roll == 1:
		in.Type = models.MessageVoice
		in.FilePath = fmt.Sprintf("voice/%s.ogg", f.faker.UUID())
		seconds := f.faker.Number(1, 120)
		in.DurationSeconds = &seconds
	case roll == 2:
		in.Type = models.MessageImage
		id := f.faker.UUID()
		in.FilePath = fmt.Sprintf("images/%s.jpg", id)
		in.Thumbnail = fmt.Sprintf("thumbnails/%s.jpg", id)
		in.Content = f.faker.Emoji()
	case roll == 3:
		in.Type = models.MessageFile
		in.FilePath = fmt.Sprintf("files/%s.%s", f.faker.UUID(), f.faker.FileExtension())
	case roll == 4:
		in.Type = models.MessageLocation
		in.Content = fmt.Sprintf("%.6f,%.6f", f.faker.Latitude(), f.faker.Longitude())
	default:
		in.Content = f.faker.Sentence(f.faker.Number(2, 14))
	}
	return in
}
