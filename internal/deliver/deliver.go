// Package deliver renders due jobs into messages and sends them through the
// transport adapter, attaching the Done/Snooze controls that the ack package
// later routes on.
package deliver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/ack"
	"remindbot/internal/job"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// snoozePresets are the fixed snooze choices offered on every delivery,
// in minutes.
var snoozePresets = []int{15, 60}

type Gateway struct {
	ad  transport.Adapter
	log logx.Logger
}

func New(ad transport.Adapter, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{ad: ad, log: log}
}

func (g *Gateway) Deliver(ctx context.Context, j *job.Job) error {
	text, opt := render(j)
	opt.ReplyMarkupAdapter = controls(j).Markup()
	_, err := g.ad.SendText(ctx, transport.ChatTarget{ChatID: j.ChatID}, text, opt)
	if err != nil {
		return fmt.Errorf("send to chat %d: %w", j.ChatID, err)
	}
	return nil
}

// render builds the outgoing message. Payloads carrying formatting spans are
// sent verbatim with entities; plain payloads get an HTML-escaped template.
func render(j *job.Job) (string, *transport.SendOptions) {
	if len(j.Payload.Spans) > 0 {
		opt := &transport.SendOptions{DisablePreview: true}
		for _, s := range j.Payload.Spans {
			opt.Entities = append(opt.Entities, transport.Entity{
				Type:   s.Type,
				Offset: s.Offset,
				Length: s.Length,
			})
		}
		return j.Payload.Text, opt
	}

	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if j.Family == job.FamilyHabit && j.Payload.Habit != nil {
		h := j.Payload.Habit
		lines := []tgui.H{"🔁 " + tgui.B(h.Name)}
		if h.Amount > 0 {
			target := trimFloat(h.Amount)
			if h.Unit != "" {
				target += " " + h.Unit
			}
			lines = append(lines, tgui.I("Target: "+target))
		}
		return string(tgui.JoinH("\n", lines...)), opt
	}
	return "⏰ " + string(tgui.Esc(j.Payload.Text)), opt
}

func controls(j *job.Job) *tgui.Inline {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn("✅ Done", ack.Token(ack.VerbDone, j.ID, "")))

	snoozeRow := make([]tele.Btn, 0, len(snoozePresets)+1)
	for _, m := range snoozePresets {
		snoozeRow = append(snoozeRow,
			tgui.Btn("💤 "+formatPreset(m), ack.Token(ack.VerbSnooze, j.ID, strconv.Itoa(m))))
	}
	snoozeRow = append(snoozeRow, tgui.Btn("💤 …", ack.Token(ack.VerbSnoozeAsk, j.ID, "")))
	kb.Row(snoozeRow...)
	return kb
}

func formatPreset(minutes int) string {
	if minutes%60 == 0 && minutes >= 60 {
		return strconv.Itoa(minutes/60) + "h"
	}
	return strconv.Itoa(minutes) + "m"
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
