package alert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/realtime"
)

// Tone is the audible part of an alert.
type Tone string

const (
	ToneSingle Tone = "single"
	ToneDouble Tone = "double"
	ToneUrgent Tone = "urgent"
)

// Player emits an audible tone.
type Player interface {
	Play(tone Tone) error
}

// Notifier shows a transient visual notification.
type Notifier interface {
	Notify(title, body string) error
}

// BellPlayer rings the terminal bell, once per beep in the tone.
type BellPlayer struct {
	Out io.Writer
}

func (p *BellPlayer) Play(tone Tone) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	beeps := 1
	switch tone {
	case ToneDouble:
		beeps = 2
	case ToneUrgent:
		beeps = 3
	}
	for i := 0; i < beeps; i++ {
		if _, err := fmt.Fprint(out, "\a"); err != nil {
			return fmt.Errorf("ring bell: %w", err)
		}
	}
	return nil
}

// LogNotifier records toasts through the structured log. A device build
// would swap in a real toast surface here.
type LogNotifier struct {
	Log *logger.Logger
}

func (n *LogNotifier) Notify(title, body string) error {
	n.Log.Info("toast", map[string]any{"title": title, "body": body})
	return nil
}

// Presenter turns notification-channel events into tones and toasts. Audio
// failures are logged and never suppress the visual notification.
type Presenter struct {
	player   Player
	notifier Notifier
	log      *logger.Logger

	mu    sync.Mutex
	muted bool
}

func NewPresenter(player Player, notifier Notifier, log *logger.Logger) *Presenter {
	return &Presenter{player: player, notifier: notifier, log: log}
}

// SetMuted disables tones; toasts still show.
func (p *Presenter) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Bind subscribes the presenter to every alert-worthy message type.
func (p *Presenter) Bind(ch *realtime.Channel) {
	for _, msgType := range []string{
		domain.MsgOrderReady,
		domain.MsgNewOrder,
		domain.MsgTableAssigned,
		domain.MsgOrderStatusChanged,
		domain.MsgNotification,
		domain.MsgError,
	} {
		ch.Handle(msgType, p.Present)
	}
}

// Present raises the alert for one inbound message.
func (p *Presenter) Present(msg domain.Message) {
	tone, play := toneFor(msg.Type)
	if play {
		p.mu.Lock()
		muted := p.muted
		p.mu.Unlock()
		if !muted {
			if err := p.player.Play(tone); err != nil {
				p.log.Warn("tone_failed", map[string]any{
					"type":  msg.Type,
					"tone":  string(tone),
					"error": err.Error(),
				})
			}
		}
	}
	title, body := describe(msg)
	if err := p.notifier.Notify(title, body); err != nil {
		p.log.Warn("toast_failed", map[string]any{"type": msg.Type, "error": err.Error()})
	}
}

// toneFor maps a message type to its tone. Errors are visual only.
func toneFor(msgType string) (Tone, bool) {
	switch msgType {
	case domain.MsgOrderReady:
		return ToneUrgent, true
	case domain.MsgNewOrder, domain.MsgTableAssigned:
		return ToneDouble, true
	case domain.MsgOrderStatusChanged, domain.MsgNotification:
		return ToneSingle, true
	default:
		return "", false
	}
}

func describe(msg domain.Message) (title, body string) {
	var fields struct {
		OrderNumber string `json:"order_number"`
		TableNumber string `json:"table_number"`
		Status      string `json:"status"`
		Message     string `json:"message"`
	}
	if len(msg.Payload) > 0 {
		// Best effort; an unparseable payload still gets a generic toast.
		_ = json.Unmarshal(msg.Payload, &fields)
	}

	switch msg.Type {
	case domain.MsgOrderReady:
		return "Order ready", fmt.Sprintf("Order %s is ready for pickup", fields.OrderNumber)
	case domain.MsgNewOrder:
		return "New order", fmt.Sprintf("Order %s placed", fields.OrderNumber)
	case domain.MsgTableAssigned:
		return "Table assigned", fmt.Sprintf("You are now serving table %s", fields.TableNumber)
	case domain.MsgOrderStatusChanged:
		return "Order update", fmt.Sprintf("Order %s is now %s", fields.OrderNumber, fields.Status)
	case domain.MsgNotification:
		return "Notification", fields.Message
	case domain.MsgError:
		return "Error", fields.Message
	default:
		return "Notification", fields.Message
	}
}
