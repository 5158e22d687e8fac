package notify

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cof-trader/internal/models"
)

func date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestTerminalReportsTradesAndSkips(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 10)
	term.SetBellEnabled(false)
	term.Start(context.Background())

	term.ObserveWindow("cof", models.FitOutcome{Date: date(1), HasFit: true})
	term.ObserveWindow("cof", models.FitOutcome{Date: date(8), Skip: models.SkipMonotonicity, HasFit: true, CarriedFwd: true})
	term.ObserveTrade("cof", models.Trade{
		ID:         "cof-0001",
		Direction:  models.Long,
		EntryPrice: 100,
		ExitPrice:  103,
		ExitDate:   date(15),
		Periods:    2,
		PnL:        2.9897,
		ExitReason: models.ExitSignalReversal,
	})
	term.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[SKIP ] 2024-01-08 cof")
	assert.Contains(t, lines[0], "previous fit carried forward")
	assert.Contains(t, lines[1], "[TRADE] 2024-01-15 cof")
	assert.Contains(t, lines[1], "cof-0001 LONG 100.0000 -> 103.0000 after 2 periods, pnl +2.9897 (SIGNAL_REVERSAL)")
}

func TestTerminalUnstableWindow(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 10)
	term.Start(context.Background())

	term.ObserveWindow("cof", models.FitOutcome{
		Date:   date(2),
		HasFit: true,
		Fit:    models.WindowFit{Lambda: 100, CVStdDev: 0.25, Unstable: true},
	})
	term.Close()

	assert.Contains(t, buf.String(), "[WARN ] 2024-01-02 cof")
	assert.Contains(t, buf.String(), "lambda 100 cross-validation std 0.2500")
}

func TestTerminalStopLossRingsBell(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 10)

	var mu sync.Mutex
	var got []Notification
	term.AddHandler(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	})
	term.Start(context.Background())

	term.ObserveTrade("cof", models.Trade{Direction: models.Short, ExitDate: date(3), ExitReason: models.ExitStopLoss})
	term.Close()

	assert.True(t, strings.HasPrefix(buf.String(), "\a[STOP ]"))
	require.Len(t, got, 1)
	assert.Equal(t, KindStopLoss, got[0].Kind)
	assert.Equal(t, 1, got[0].Priority)
}

func TestTerminalDropsOldestWhenFull(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 2)

	for day := 1; day <= 4; day++ {
		term.Notify(Notification{Kind: KindSkip, Instrument: "cof", Date: date(day), Message: "x"})
	}
	term.Start(context.Background())
	term.Close()

	out := buf.String()
	assert.NotContains(t, out, "2024-01-01")
	assert.NotContains(t, out, "2024-01-02")
	assert.Contains(t, out, "2024-01-03")
	assert.Contains(t, out, "2024-01-04")
}

func TestTerminalCloseWithoutStart(t *testing.T) {
	term := NewTerminal(&bytes.Buffer{}, 0)
	term.Close()
	term.Close()
	// Dropped after close.
	term.Notify(Notification{Kind: KindTrade})
}
