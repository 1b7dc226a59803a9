// Package telegram adapts the transport boundary to the Telegram Bot API
// via telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outgoing messages across all chats. Telegram
	// throttles bots around 30 messages per second globally.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	lim *rate.Limiter

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// dropped counts updates discarded because the consumer lagged behind
	// the poll loop.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg: cfg,
		log: log,
		bot: b,
		lim: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	done := make(chan struct{})
	a.done = done
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out")
	case <-time.After(2 * time.Second):
		// Keep shutdown snappy even if a long-poll is still waiting.
		a.log.Debug("telegram stop grace elapsed")
	}
	return nil
}

const textLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := a.lim.Wait(ctx); err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Entities and markup only apply to the first chunk.
		if i == 0 {
			for _, e := range opt.Entities {
				sendOpt.Entities = append(sendOpt.Entities, tele.MessageEntity{
					Type:   tele.EntityType(e.Type),
					Offset: e.Offset,
					Length: e.Length,
				})
			}
			if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// splitText chunks long messages on newline boundaries where possible.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
