package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/watermark-bot/internal/settings"
)

// Callback data of the settings menu buttons.
const (
	CallbackChangeText     = "change_text"
	CallbackChangePosition = "change_position"
	CallbackChangeSize     = "change_size"
	CallbackChangeColor    = "change_color"
	CallbackReset          = "reset_settings"
	callbackPositionPrefix = "pos_"
)

// Prompts sent for free-text settings. A reply is matched back to its field
// only when it answers one of these exact texts.
const (
	promptText  = "Please send the new watermark text:"
	promptSize  = "Please send the new font size (number between 10 and 100):"
	promptColor = "Please send the new font color (e.g., white, black, red, #FFFFFF):"
)

// Dialog serves the chat commands and inline menus that edit the shared
// watermark settings.
type Dialog struct {
	client *Client
	store  *settings.Store
	logger *slog.Logger
}

// NewDialog creates a Dialog that edits store through client.
func NewDialog(client *Client, store *settings.Store, logger *slog.Logger) *Dialog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialog{
		client: client,
		store:  store,
		logger: logger.With(slog.String("component", "dialog")),
	}
}

// HandleCommand answers /start, /help, /current and /watermark. Other
// commands are ignored.
func (d *Dialog) HandleCommand(ctx context.Context, m *tgbotapi.Message) error {
	if m.Chat == nil {
		return ErrNoChat
	}
	s := d.store.Snapshot()

	switch m.Command() {
	case "start", "help":
		text := "Welcome to the Watermark Bot!\n" +
			"Send me a video or image and I'll add a text watermark.\n\n" +
			"Commands:\n" +
			"/watermark - Customize watermark settings\n" +
			"/current - Show current settings\n\n" +
			"Current settings:\n" + describe(s, "Text")
		return d.reply(ctx, m, text, nil)
	case "current":
		return d.reply(ctx, m, "Current watermark settings:\n\n"+describe(s, "Text"), nil)
	case "watermark":
		return d.reply(ctx, m, "Watermark Settings:\n\n"+describe(s, "Current text"), settingsMenu())
	default:
		d.logger.Debug("ignoring unknown command", slog.String("command", m.Command()))
		return nil
	}
}

// HandleCallback reacts to a settings menu button. The callback is always
// answered so the client stops its loading indicator.
func (d *Dialog) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) error {
	if cq.Message == nil || cq.Message.Chat == nil {
		_ = d.client.request(ctx, tgbotapi.NewCallback(cq.ID, ""))
		return ErrNoChat
	}
	chatID := cq.Message.Chat.ID
	menuID := cq.Message.MessageID

	var answer string
	var err error

	switch data := cq.Data; {
	case data == CallbackChangeText:
		err = d.prompt(ctx, cq.Message, promptText)
	case data == CallbackChangeSize:
		err = d.prompt(ctx, cq.Message, promptSize)
	case data == CallbackChangeColor:
		err = d.prompt(ctx, cq.Message, promptColor)
	case data == CallbackChangePosition:
		err = d.client.request(ctx, tgbotapi.NewEditMessageTextAndMarkup(chatID, menuID, "Select watermark position:", positionMenu()))
	case data == CallbackReset:
		if _, err = settings.Apply(d.store, settings.ResetAll{}); err == nil {
			answer = "Settings reset!"
			err = d.client.request(ctx, tgbotapi.NewEditMessageText(chatID, menuID, "Settings reset to default values!"))
		}
	case strings.HasPrefix(data, callbackPositionPrefix):
		var pos settings.Position
		pos, err = settings.ParsePosition(strings.TrimPrefix(data, callbackPositionPrefix))
		if err == nil {
			_, err = settings.Apply(d.store, settings.SetPosition(pos))
		}
		if err == nil {
			answer = "Position set to " + pos.Label()
			err = d.client.request(ctx, tgbotapi.NewEditMessageText(chatID, menuID, "Watermark position set to: "+pos.Label()))
		}
	default:
		d.logger.Debug("ignoring unknown callback", slog.String("data", data))
	}

	if err != nil {
		answer = userFacing(err)
	}
	if aerr := d.client.request(ctx, tgbotapi.NewCallback(cq.ID, answer)); aerr != nil {
		d.logger.Debug("failed to answer callback", slog.String("error", aerr.Error()))
	}
	return err
}

// HandleReply applies a free-text answer to one of the prompts. It reports
// whether m was such an answer.
func (d *Dialog) HandleReply(ctx context.Context, m *tgbotapi.Message) (bool, error) {
	if m.ReplyToMessage == nil || m.Chat == nil {
		return false, nil
	}
	prompt := strings.TrimSpace(m.ReplyToMessage.Text)
	input := strings.TrimSpace(m.Text)

	var (
		intent  settings.Intent
		confirm func(settings.WatermarkSettings) string
	)
	switch prompt {
	case promptText:
		intent = settings.SetText(input)
		confirm = func(s settings.WatermarkSettings) string { return "Watermark text updated to: " + s.Text }
	case promptSize:
		size, err := settings.ParseFontSize(input)
		if err != nil {
			return true, d.reply(ctx, m, userFacing(err), nil)
		}
		intent = settings.SetFontSize(size)
		confirm = func(s settings.WatermarkSettings) string { return fmt.Sprintf("Font size updated to: %d", s.FontSize) }
	case promptColor:
		intent = settings.SetFontColor(input)
		confirm = func(s settings.WatermarkSettings) string { return "Font color updated to: " + s.FontColor }
	default:
		return false, nil
	}

	updated, err := settings.Apply(d.store, intent)
	if err != nil {
		rerr := d.reply(ctx, m, userFacing(err), nil)
		if errors.Is(err, settings.ErrInvalidSettings) {
			return true, rerr
		}
		return true, errors.Join(err, rerr)
	}
	return true, d.reply(ctx, m, confirm(updated), nil)
}

// prompt asks for a free-text value as a forced reply to the menu message.
func (d *Dialog) prompt(ctx context.Context, menu *tgbotapi.Message, text string) error {
	return d.reply(ctx, menu, text, tgbotapi.ForceReply{ForceReply: true})
}

func (d *Dialog) reply(ctx context.Context, to *tgbotapi.Message, text string, markup any) error {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	_, err := d.client.send(ctx, msg)
	return err
}

func describe(s settings.WatermarkSettings, textLabel string) string {
	return fmt.Sprintf("%s: %s\nPosition: %s\nFont size: %d\nColor: %s",
		textLabel, s.Text, s.Position.Label(), s.FontSize, s.FontColor)
}

func settingsMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Change Text", CallbackChangeText)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Change Position", CallbackChangePosition)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Change Font Size", CallbackChangeSize)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Change Color", CallbackChangeColor)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Reset to Default", CallbackReset)),
	)
}

func positionMenu() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(settings.Positions))
	for _, p := range settings.Positions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Label(), callbackPositionPrefix+string(p)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// userFacing returns the message shown for a rejected settings change.
func userFacing(err error) string {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return "Could not update settings, please try again."
}
