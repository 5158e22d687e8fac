// Package notify streams notable backtest events to the terminal while a run
// is in progress.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"cof-trader/internal/models"
)

// Kind is the type of a terminal notification.
type Kind int

const (
	KindTrade Kind = iota
	KindStopLoss
	KindSkip
	KindUnstable
)

// Notification is one event to be displayed in the terminal.
type Notification struct {
	Kind       Kind
	Instrument string
	Date       time.Time
	Message    string
	// Priority above zero rings the bell.
	Priority int
}

// Handler is a function that handles terminal notifications.
type Handler func(n Notification)

// Terminal buffers notifications and writes them from a single goroutine so
// concurrent instrument runs never interleave partial lines.
type Terminal struct {
	out           io.Writer
	notifications chan Notification
	done          chan struct{}

	mu          sync.RWMutex
	handlers    []Handler
	bellEnabled bool
	started     bool
	closed      bool
}

// NewTerminal creates a Terminal writing to out.
func NewTerminal(out io.Writer, bufferSize int) *Terminal {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Terminal{
		out:           out,
		notifications: make(chan Notification, bufferSize),
		done:          make(chan struct{}),
		bellEnabled:   true,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (t *Terminal) SetBellEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bellEnabled = enabled
}

// AddHandler adds a notification handler, called after the line is written.
func (t *Terminal) AddHandler(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Notify queues a notification. When the buffer is full the oldest queued
// notification is dropped.
func (t *Terminal) Notify(n Notification) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	for {
		select {
		case t.notifications <- n:
			return
		default:
		}
		select {
		case <-t.notifications:
		default:
		}
	}
}

// Start starts processing notifications until ctx is done or Close is called.
func (t *Terminal) Start(ctx context.Context) {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-t.notifications:
				if !ok {
					return
				}
				t.process(n)
			}
		}
	}()
}

// Close stops accepting notifications and waits until every queued one has
// been written.
func (t *Terminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.notifications)
	started := t.started
	t.mu.Unlock()

	if started {
		<-t.done
	}
}

func (t *Terminal) process(n Notification) {
	t.mu.RLock()
	handlers := t.handlers
	bell := t.bellEnabled
	t.mu.RUnlock()

	line := Format(n)
	if bell && n.Priority > 0 {
		line = "\a" + line
	}
	fmt.Fprintln(t.out, line)

	for _, handler := range handlers {
		handler(n)
	}
}

// Format renders a notification as a single line.
func Format(n Notification) string {
	var tag string
	switch n.Kind {
	case KindTrade:
		tag = "TRADE"
	case KindStopLoss:
		tag = "STOP "
	case KindSkip:
		tag = "SKIP "
	case KindUnstable:
		tag = "WARN "
	}
	return fmt.Sprintf("[%s] %s %-10s %s", tag, n.Date.Format("2006-01-02"), n.Instrument, n.Message)
}

// ObserveWindow reports skipped and unstable windows; ordinary fits are silent.
func (t *Terminal) ObserveWindow(instrument string, o models.FitOutcome) {
	switch {
	case !o.OK():
		msg := string(o.Skip)
		if o.CarriedFwd {
			msg += ", previous fit carried forward"
		}
		t.Notify(Notification{Kind: KindSkip, Instrument: instrument, Date: o.Date, Message: msg})
	case o.Fit.Unstable:
		t.Notify(Notification{
			Kind:       KindUnstable,
			Instrument: instrument,
			Date:       o.Date,
			Message:    fmt.Sprintf("lambda %.3g cross-validation std %.4f", o.Fit.Lambda, o.Fit.CVStdDev),
		})
	}
}

// ObserveTrade reports a closed trade. Stop-losses ring the bell.
func (t *Terminal) ObserveTrade(instrument string, trade models.Trade) {
	n := Notification{
		Kind:       KindTrade,
		Instrument: instrument,
		Date:       trade.ExitDate,
		Message: fmt.Sprintf("%s %s %.4f -> %.4f after %d periods, pnl %+.4f (%s)",
			trade.ID, trade.Direction, trade.EntryPrice, trade.ExitPrice, trade.Periods, trade.PnL, trade.ExitReason),
	}
	if trade.ExitReason == models.ExitStopLoss {
		n.Kind = KindStopLoss
		n.Priority = 1
	}
	t.Notify(n)
}
