package service

import (
	"context"
	"fmt"
	"sync"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	metrics "dca_bot/internal/modules/metrics/service"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// sender — то, что нужно от BotAPI. В тестах подменяется.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Controller — операции бота, доступные из чата.
type Controller interface {
	OpenPositions(ctx context.Context, account string) ([]models.PositionRecord, error)
	ResetFailures(ctx context.Context, account, symbol string) error
}

type outMsg struct {
	chatID int64
	text   string
}

// Notifier — асинхронная отправка уведомлений в Telegram.
// Notify не блокирует: при переполненной очереди сообщение отбрасывается.
type Notifier struct {
	bot   *tgbot.BotAPI
	send  sender
	log   *zap.Logger
	m     *metrics.Metrics
	queue chan outMsg

	chats       map[string]int64
	accounts    map[int64]string
	serviceChat int64

	mu   sync.RWMutex
	ctrl Controller

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Notifier, error) {
	n := newNotifier(cfg, log, m)
	if cfg.Telegram.Token == "" {
		n.log.Warn("[TG] token is empty, notifications go to log only")
		return n, nil
	}

	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram.NewNotifier: %w", err)
	}
	n.bot = b
	n.send = b
	return n, nil
}

func newNotifier(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *Notifier {
	size := cfg.Telegram.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	n := &Notifier{
		log:         log.Named("telegram"),
		m:           m,
		queue:       make(chan outMsg, size),
		chats:       make(map[string]int64, len(cfg.Accounts)),
		accounts:    make(map[int64]string, len(cfg.Accounts)),
		serviceChat: cfg.Telegram.ServiceChatID,
	}
	for _, a := range cfg.Accounts {
		if a.ChatID == 0 {
			continue
		}
		n.chats[a.Name] = a.ChatID
		n.accounts[a.ChatID] = a.Name
	}
	return n
}

// SetController подключает команды чата. Вызывается после сборки оркестратора.
func (n *Notifier) SetController(c Controller) {
	n.mu.Lock()
	n.ctrl = c
	n.mu.Unlock()
}

func (n *Notifier) controller() Controller {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ctrl
}

// Notify — сообщение в чат аккаунта.
func (n *Notifier) Notify(account, msg string) {
	chatID, ok := n.chats[account]
	if !ok {
		n.log.Info("[TG] "+msg, zap.String("account", account))
		return
	}
	n.enqueue(chatID, msg, account)
}

// NotifyService — служебный чат.
func (n *Notifier) NotifyService(msg string) {
	if n.serviceChat == 0 {
		n.log.Info("[TG] " + msg)
		return
	}
	n.enqueue(n.serviceChat, msg, "service")
}

func (n *Notifier) enqueue(chatID int64, text, account string) {
	select {
	case n.queue <- outMsg{chatID: chatID, text: text}:
	default:
		n.m.NotificationDropped()
		n.log.Warn("[TG] queue full, message dropped", zap.String("account", account), zap.String("text", text))
	}
}

func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.worker(ctx)
	}()

	if n.bot != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.listen(ctx)
		}()
	}
}

func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.bot != nil {
		n.bot.StopReceivingUpdates()
	}
	n.wg.Wait()
}

func (n *Notifier) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.deliver(msg)
		}
	}
}

func (n *Notifier) deliver(msg outMsg) {
	if n.send == nil {
		n.log.Info("[TG] "+msg.text, zap.Int64("chat", msg.chatID))
		return
	}
	if _, err := n.send.Send(tgbot.NewMessage(msg.chatID, msg.text)); err != nil {
		n.log.Warn("[TG] send failed", zap.Int64("chat", msg.chatID), zap.Error(err))
	}
}

func (n *Notifier) listen(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := n.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			n.handleUpdate(ctx, update)
		}
	}
}
