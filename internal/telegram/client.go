package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// texts resolves catalog keys into rendered strings.
type texts interface {
	Lookup(key string, lang models.Language, vars map[string]interface{}) string
}

// Client renders replies into Telegram messages and downloads files.
type Client struct {
	api     botAPI
	texts   texts
	http    *http.Client
	metrics *service.MetricsService
	logger  *zap.Logger
}

// NewClient builds a Client. httpClient defaults to one with a 30s timeout.
func NewClient(api botAPI, catalog texts, httpClient *http.Client, metrics *service.MetricsService, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, texts: catalog, http: httpClient, metrics: metrics, logger: logger}
}

// Send delivers every reply in order and stops at the first failure.
func (c *Client) Send(ctx context.Context, replies ...models.Reply) error {
	for _, reply := range replies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.api.Send(c.render(reply)); err != nil {
			c.metrics.SendFailed(string(reply.Kind))
			c.logger.Warn("failed to send reply",
				zap.Int64("chat_id", reply.ChatID),
				zap.String("kind", string(reply.Kind)),
				zap.String("prompt", reply.PromptKey),
				zap.Error(err))
			return appErrors.Wrap(err, appErrors.ErrTransportUnavailable.Code, appErrors.ErrTransportUnavailable.Status, "failed to send reply")
		}
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(id string) error {
	if id == "" {
		return nil
	}
	if _, err := c.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransportUnavailable.Code, appErrors.ErrTransportUnavailable.Status, "failed to answer callback")
	}
	return nil
}

// Fetch downloads a file previously sent to the bot. ref may be a stored
// proof reference.
func (c *Client) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	fileID, _ := models.SplitProofRef(ref)
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) render(reply models.Reply) tgbotapi.Chattable {
	text := reply.Raw
	if text == "" && reply.PromptKey != "" {
		text = c.texts.Lookup(reply.PromptKey, reply.Language, reply.Vars)
	}
	markup := c.markup(reply)

	switch reply.Kind {
	case models.ReplyDocument:
		var file tgbotapi.RequestFileData = tgbotapi.FileBytes{Name: reply.FileName, Bytes: reply.FileBytes}
		if reply.ImageRef != "" {
			file = tgbotapi.FileID(reply.ImageRef)
		}
		doc := tgbotapi.NewDocument(reply.ChatID, file)
		doc.Caption = text
		doc.ParseMode = tgbotapi.ModeHTML
		if markup != nil {
			doc.ReplyMarkup = markup
		}
		return doc
	case models.ReplyImage:
		photo := tgbotapi.NewPhoto(reply.ChatID, tgbotapi.FileID(reply.ImageRef))
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeHTML
		if markup != nil {
			photo.ReplyMarkup = markup
		}
		return photo
	default:
		msg := tgbotapi.NewMessage(reply.ChatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		return msg
	}
}

// markup picks inline buttons over a reply keyboard; Telegram accepts only
// one markup per message.
func (c *Client) markup(reply models.Reply) interface{} {
	if len(reply.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Buttons))
		for _, row := range reply.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				label := c.label(b, reply.Language)
				if b.URL != "" {
					buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(label, b.URL))
				} else {
					buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, b.Payload))
				}
			}
			rows = append(rows, buttons)
		}
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	cancel := tgbotapi.NewKeyboardButton(c.texts.Lookup("cancel", reply.Language, nil))
	switch reply.Keyboard {
	case models.KeyboardCancel:
		kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(cancel))
		kb.ResizeKeyboard = true
		return kb
	case models.KeyboardSharePhone:
		share := tgbotapi.NewKeyboardButtonContact(c.texts.Lookup("share_phone_button", reply.Language, nil))
		kb := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(share),
			tgbotapi.NewKeyboardButtonRow(cancel),
		)
		kb.ResizeKeyboard = true
		kb.OneTimeKeyboard = true
		return kb
	case models.KeyboardRemove:
		return tgbotapi.NewRemoveKeyboard(true)
	}
	return nil
}

func (c *Client) label(b models.Button, lang models.Language) string {
	if b.Label != "" {
		return b.Label
	}
	if b.LabelLanguage != "" {
		lang = b.LabelLanguage
	}
	return c.texts.Lookup(b.LabelKey, lang, nil)
}
