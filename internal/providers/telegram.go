package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"reminder-service/internal/logging"
	"reminder-service/internal/utils"
)

// TelegramSender delivers reminder texts and voice notes via the
// go-telegram/bot library. The recipient is the chat id as a string.
type TelegramSender struct {
	token   string
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewTelegramSender builds a sender with a global rate limiter.
func NewTelegramSender(token string, ratePerSecond int, logger *logging.Logger) *TelegramSender {
	return &TelegramSender{
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
	}
}

func (t *TelegramSender) chatID(recipient string) (int64, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return id, nil
}

// SendText sends a message, rendering quick replies as an inline keyboard.
func (t *TelegramSender) SendText(ctx context.Context, recipient, text string, quickReplies []string, mediaURL string) (string, error) {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return "", err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	var markup tgmodels.ReplyMarkup
	if len(quickReplies) > 0 {
		row := make([]tgmodels.InlineKeyboardButton, 0, len(quickReplies))
		for _, reply := range quickReplies {
			row = append(row, tgmodels.InlineKeyboardButton{Text: reply, CallbackData: reply})
		}
		markup = &tgmodels.InlineKeyboardMarkup{InlineKeyboard: [][]tgmodels.InlineKeyboardButton{row}}
	}

	var messageID string
	err = utils.Retry(t.logger, 3, time.Second, func() error {
		b, err := bot.New(t.token)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram bot: %w", err)
		}

		if mediaURL != "" {
			msg, err := b.SendPhoto(ctx, &bot.SendPhotoParams{
				ChatID:      chatID,
				Photo:       &tgmodels.InputFileString{Data: mediaURL},
				Caption:     text,
				ReplyMarkup: markup,
			})
			if err != nil {
				return fmt.Errorf("failed to send Telegram photo to chat_id %d: %w", chatID, err)
			}
			messageID = strconv.Itoa(msg.ID)
			return nil
		}

		msg, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        text,
			ReplyMarkup: markup,
		})
		if err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
		}
		messageID = strconv.Itoa(msg.ID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// SendVoiceNote sends a synthesized audio file as a Telegram voice message.
func (t *TelegramSender) SendVoiceNote(ctx context.Context, recipient, audioURL string) (string, error) {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return "", err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	var messageID string
	err = utils.Retry(t.logger, 3, time.Second, func() error {
		b, err := bot.New(t.token)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram bot: %w", err)
		}
		msg, err := b.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID: chatID,
			Voice:  &tgmodels.InputFileString{Data: audioURL},
		})
		if err != nil {
			return fmt.Errorf("failed to send Telegram voice note to chat_id %d: %w", chatID, err)
		}
		messageID = strconv.Itoa(msg.ID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// DownloadMedia fetches media bytes from a URL.
func (t *TelegramSender) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create media request for %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
