package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSessionPrefix marks sessions that belong to Telegram chats.
const TelegramSessionPrefix = "telegram-"

const telegramFallbackReply = "I'm having trouble thinking right now..."

type TelegramGateway struct {
	Bot       *tgbotapi.BotAPI
	Conductor ConductorRunner
}

func NewTelegramGateway(token string, conductor ConductorRunner) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegramGateway(bot, conductor), nil
}

func newTelegramGateway(bot *tgbotapi.BotAPI, conductor ConductorRunner) *TelegramGateway {
	log.Printf("Authorized on account %s", bot.Self.UserName)
	return &TelegramGateway{Bot: bot, Conductor: conductor}
}

// TelegramSession is the conversation session id of a chat.
func TelegramSession(chatID int64) string {
	return fmt.Sprintf("%s%d", TelegramSessionPrefix, chatID)
}

// Start polls for updates until ctx is done. Each message is handled on
// its own goroutine.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)
			go tg.handle(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, chatID int64, text string) {
	reply := tg.reply(ctx, chatID, text)
	if err := tg.send(chatID, reply); err != nil {
		log.Printf("Error replying to chat %d: %v", chatID, err)
	}
}

func (tg *TelegramGateway) reply(ctx context.Context, chatID int64, text string) string {
	res := tg.Conductor.Execute(ctx, text, TelegramSession(chatID))
	if res == nil || !res.Success {
		if res != nil {
			log.Printf("Error thinking for chat %d: %s", chatID, res.Error)
		}
		return telegramFallbackReply
	}
	if strings.TrimSpace(res.Response) == "" {
		return telegramFallbackReply
	}
	return res.Response
}

// Send pushes text to the chat behind a telegram session id. A bare
// numeric chat id is accepted too.
func (tg *TelegramGateway) Send(sessionID string, text string) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(sessionID, TelegramSessionPrefix), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", sessionID)
	}
	return tg.send(id, text)
}

func (tg *TelegramGateway) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
