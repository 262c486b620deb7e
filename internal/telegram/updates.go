package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
)

// ToEvent converts a Telegram update into a transport-neutral event. The
// second result is false for updates the bot does not handle, such as
// channel posts or edits.
func ToEvent(update tgbotapi.Update) (models.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.From == nil {
			return models.Event{}, false
		}
		ev := baseEvent(cq.From)
		ev.Kind = models.EventAction
		ev.Payload = cq.Data
		ev.CallbackID = cq.ID
		ev.ChatID = cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
		}
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return models.Event{}, false
	}
	ev := baseEvent(msg.From)
	ev.ChatID = msg.Chat.ID

	switch {
	case msg.Contact != nil:
		ev.Kind = models.EventContact
		ev.ContactPhone = msg.Contact.PhoneNumber
		ev.ContactOwner = msg.Contact.UserID
	case len(msg.Photo) > 0:
		ev.Kind = models.EventImage
		// Telegram lists sizes ascending; keep the largest.
		ev.ImageRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		ev.Kind = models.EventImage
		ev.ImageRef = models.DocumentProofRef(msg.Document.FileID)
	case msg.IsCommand():
		ev.Kind = models.EventCommand
		ev.Command = strings.ToLower(msg.Command())
		ev.Args = strings.TrimSpace(msg.CommandArguments())
		ev.Text = msg.Text
	case msg.Text != "":
		ev.Kind = models.EventText
		ev.Text = msg.Text
	default:
		ev.Kind = models.EventOther
	}
	return ev, true
}

func baseEvent(from *tgbotapi.User) models.Event {
	return models.Event{
		AccountID:     from.ID,
		AccountHandle: from.UserName,
		LanguageHint:  from.LanguageCode,
	}
}
