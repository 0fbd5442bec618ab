package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// dashboard renders the live console layout: a progress pane plus scrolling
// panes for dispatched updates, errors and the system log.
type dashboard struct {
	app         *tview.Application
	statsView   *tview.TextView
	updateView  *tview.TextView
	errorView   *tview.TextView
	systemView  *tview.TextView
	updateLines []string
	errorLines  []string
	paneMu      sync.Mutex
	events      chan paneEvent
	closed      atomic.Bool
	ready       chan struct{}
}

const paneMaxLines = 6

type paneType int

const (
	paneUpdate paneType = iota
	paneError
)

type paneEvent struct {
	pane paneType
	line string
}

func newDashboard(enable bool) *dashboard {
	if !enable {
		return nil
	}

	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(false)
		tv.SetTitle(title).SetTitleAlign(tview.AlignLeft)
		return tv
	}

	stats := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	stats.SetTextColor(tcell.ColorYellow)
	updatePane := makePane("Updates")
	errorPane := makePane("Errors")
	systemPane := makePane("System")
	systemPane.SetTextColor(tcell.ColorYellow)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(stats, 8, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(updatePane, 7, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(errorPane, 7, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(systemPane, 7, 0, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})
	d := &dashboard{
		app:        app,
		statsView:  stats,
		updateView: updatePane,
		errorView:  errorPane,
		systemView: systemPane,
		events:     make(chan paneEvent, 256),
		ready:      ready,
	}

	// Dedicated flusher so the dispatch loop drops lines instead of
	// blocking when the UI lags.
	go d.runEventLoop()

	go func() {
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
	}()

	return d
}

func (d *dashboard) Stop() {
	if d == nil || d.app == nil {
		return
	}
	if d.closed.Swap(true) {
		return
	}
	close(d.events)
	d.app.Stop()
}

func (d *dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *dashboard) SetStats(lines []string) {
	if d == nil || d.closed.Load() {
		return
	}
	text := strings.Join(lines, "\n")
	d.app.QueueUpdateDraw(func() {
		d.statsView.SetText(text)
	})
}

func (d *dashboard) AppendUpdate(line string) {
	d.enqueue(paneUpdate, line)
}

func (d *dashboard) AppendError(line string) {
	d.enqueue(paneError, line)
}

func (d *dashboard) enqueue(p paneType, line string) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.events <- paneEvent{pane: p, line: line}:
	default:
		// Drop on saturation to keep the dispatch loop non-blocking.
	}
}

// SystemWriter exposes the system pane as an io.Writer for the log fanout.
func (d *dashboard) SystemWriter() *paneWriter {
	if d == nil {
		return nil
	}
	return &paneWriter{view: d.systemView, app: d.app}
}

type paneWriter struct {
	view *tview.TextView
	app  *tview.Application
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.view == nil {
		return len(p), nil
	}
	text := string(p)
	w.app.QueueUpdateDraw(func() {
		fmt.Fprint(w.view, text)
		w.view.ScrollToEnd()
	})
	return len(p), nil
}

func (d *dashboard) runEventLoop() {
	for ev := range d.events {
		d.appendLine(ev.pane, ev.line)
	}
}

func (d *dashboard) appendLine(p paneType, line string) {
	tsLine := time.Now().Format("2006/01/02 15:04:05 ") + line

	d.paneMu.Lock()
	var buf *[]string
	var view *tview.TextView
	if p == paneUpdate {
		buf, view = &d.updateLines, d.updateView
	} else {
		buf, view = &d.errorLines, d.errorView
	}
	*buf = append(*buf, tsLine)
	if len(*buf) > paneMaxLines {
		*buf = (*buf)[len(*buf)-paneMaxLines:]
	}
	text := strings.Join(*buf, "\n")
	d.paneMu.Unlock()

	d.app.QueueUpdateDraw(func() {
		view.SetText(text)
		view.ScrollToEnd()
	})
}
