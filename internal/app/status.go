package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"structwatch/internal/poller"
	"structwatch/internal/render"
	"structwatch/internal/runtime/supervisor"
	"structwatch/pkg/tgui"
)

// Status is served on GET /status and rendered for the /status command.
type Status struct {
	Poller          poller.Status          `json:"poller"`
	CharacterID     int64                  `json:"character_id,omitempty"`
	DispatchReady   bool                   `json:"dispatch_ready"`
	DispatchPending int                    `json:"dispatch_pending"`
	Uptime          string                 `json:"uptime"`
	Tasks           []supervisor.TaskStats `json:"tasks,omitempty"`
}

func (a *App) Status() Status {
	st := Status{
		Poller:          a.poller.Status(),
		CharacterID:     a.session.CharacterID(),
		DispatchReady:   a.queue.Ready(),
		DispatchPending: a.queue.Pending(),
	}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.sup != nil {
		st.Tasks = a.sup.Snapshot()
	}
	return st
}

func (a *App) statusHTML(context.Context) string {
	return renderStatus(a.Status(), time.Now()).String()
}

func renderStatus(st Status, now time.Time) tgui.H {
	ago := func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return render.FormatMinutes(int64(now.Sub(t).Minutes())) + " ago"
	}

	lines := []tgui.H{
		tgui.B("structwatch"),
		tgui.KV("Phase", string(st.Poller.Phase)),
		tgui.KV("Structures", fmt.Sprint(st.Poller.Structures)),
		tgui.KV("Last full poll", ago(st.Poller.LastFull)),
		tgui.KV("Last event poll", ago(st.Poller.LastEvent)),
	}
	if !st.Poller.NextAvailable.IsZero() {
		lines = append(lines, tgui.KV("Next data", st.Poller.NextAvailable.UTC().Format("15:04 UTC")))
	}
	lines = append(lines, tgui.KV("Dispatch", dispatchLabel(st)))
	if st.Uptime != "" {
		lines = append(lines, tgui.KV("Uptime", st.Uptime))
	}
	if st.Poller.LastError != "" {
		lines = append(lines, tgui.KV("Last error", tgui.TruncRunes(st.Poller.LastError, 200)))
	}
	var restarting []string
	for _, t := range st.Tasks {
		if t.Restarts > 0 {
			restarting = append(restarting, fmt.Sprintf("%s×%d", t.Name, t.Restarts))
		}
	}
	if len(restarting) > 0 {
		lines = append(lines, tgui.KV("Restarts", strings.Join(restarting, ", ")))
	}
	return tgui.JoinH("\n", lines...)
}

func dispatchLabel(st Status) string {
	if !st.DispatchReady {
		return fmt.Sprintf("waiting for channel (%d buffered)", st.DispatchPending)
	}
	return "ready"
}
