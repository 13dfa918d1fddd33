package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// AdminNotifier forwards booking events to the admins' Telegram chats.
type AdminNotifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger
}

// NewBotAPI connects to Telegram with the configured token.
func NewBotAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func NewAdminNotifier(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *AdminNotifier {
	return &AdminNotifier{sender: sender, chatIDs: chatIDs, logger: logger}
}

// Subscribe registers the notifier for the events admins care about.
func (n *AdminNotifier) Subscribe(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventBookingConfirmed,
		events.EventPaymentFailed,
		events.EventMemberJoined,
	} {
		bus.Subscribe(eventType, n.Handle)
	}
}

// Handle renders one event and sends it to every admin chat.
// Send failures are logged; the publisher is never blocked by Telegram.
func (n *AdminNotifier) Handle(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to decode event payload")
		return err
	}

	text := FormatEvent(event.Type, payload)
	if text == "" {
		return nil
	}

	var lastErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Str("event", event.Type).Msg("Telegram send failed")
			lastErr = err
		}
	}
	return lastErr
}

// FormatEvent returns the admin message for an event, or "" when it is not reported.
func FormatEvent(eventType string, p events.BookingEventPayload) string {
	switch eventType {
	case events.EventBookingConfirmed:
		return fmt.Sprintf(`✅ Booking confirmed

🏍 Trip: %s
👤 Organizer: %s (%s)
👥 Group: %d/%d
💶 Paid: %s of %s
🆔 %s`,
			p.TripTitle, p.ContactName, p.ContactEmail,
			p.CurrentParticipants, p.TotalParticipants,
			FormatAmount(p.DepositAmount, p.Currency), FormatAmount(p.TotalAmount, p.Currency),
			p.BookingID)
	case events.EventPaymentFailed:
		return fmt.Sprintf(`❌ Payment failed

🏍 Trip: %s
👤 %s (%s)
📄 Type: %s
🆔 %s`,
			p.TripTitle, p.ContactName, p.ContactEmail, p.BookingType, p.BookingID)
	case events.EventMemberJoined:
		if p.Outcome == "rejected" {
			// оплата прошла, место не выдано: нужен ручной возврат
			return fmt.Sprintf(`⚠️ Join payment needs a refund

🏍 Trip: %s
👤 %s
👥 Group: %d/%d
🆔 %s`,
				p.TripTitle, p.ContactName,
				p.CurrentParticipants, p.TotalParticipants, p.BookingID)
		}
		return fmt.Sprintf(`👋 New member joined

🏍 Trip: %s
👤 %s
👥 Group: %d/%d
🆔 %s`,
			p.TripTitle, p.ContactName,
			p.CurrentParticipants, p.TotalParticipants, p.BookingID)
	default:
		return ""
	}
}

// FormatAmount renders minor units as "1234.50 EUR".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
