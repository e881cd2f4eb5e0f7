package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/podtasks/internal/formatter"
	"github.com/desertthunder/podtasks/internal/models"
)

// Source is a live envelope stream.
type Source interface {
	Next() (models.Envelope, error)
	Ping() error
	Close() error
}

// Canceller requests cooperative cancellation of a job.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) error
}

// Options configures a [Model].
type Options struct {
	JobID     string        // when set, only this job is shown and the program exits once it finishes
	Heartbeat time.Duration // interval between text pings to the server
	Now       func() time.Time
}

// Model is the watch view state.
type Model struct {
	ctx     context.Context
	source  Source
	jobs    Canceller
	opts    Options
	list    *jobList
	cursor  int
	synced  bool
	closed  error
	status  string
	final   *models.Job
	bar     progress.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap
	width   int
}

// NewModel creates a watch model reading from source.
func NewModel(ctx context.Context, source Source, jobs Canceller, opts Options) *Model {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Model{
		ctx:     ctx,
		source:  source,
		jobs:    jobs,
		opts:    opts,
		list:    newJobList(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Final is the terminal snapshot of the followed job, if it finished while watching.
func (m *Model) Final() *models.Job {
	return m.final
}

// Err is why the stream ended, if it ended on its own.
func (m *Model) Err() error {
	return m.closed
}

// Init starts reading the stream.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEnvelope(), m.spinner.Tick, m.heartbeat())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.bar.Width = max(10, min(40, msg.Width-60))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgEnvelope:
			return m.applyEnvelope(msg.data.(models.Envelope))
		case MsgStreamClosed:
			err, _ := msg.data.(error)
			m.closed = err
			return m, tea.Quit
		case MsgCancelSent:
			res := msg.data.(cancelResult)
			if res.err != nil {
				m.status = styles.err.Render(fmt.Sprintf("cancel %s: %v", short(res.jobID), res.err))
			} else {
				m.status = fmt.Sprintf("cancellation requested for %s", short(res.jobID))
			}
			return m, nil
		case MsgHeartbeat:
			m.source.Ping()
			return m, m.heartbeat()
		}
	}
	return m, nil
}

func (m *Model) applyEnvelope(env models.Envelope) (tea.Model, tea.Cmd) {
	switch env.Event {
	case models.EnvelopeInitial:
		m.list.reset(m.filter(env.Jobs))
		m.synced = true
	case models.EnvelopeUpdate:
		if env.Job != nil && (m.opts.JobID == "" || env.Job.JobID == m.opts.JobID) {
			m.list.apply(*env.Job)
		}
	}
	m.cursor = min(m.cursor, max(0, m.list.len()-1))

	if m.opts.JobID != "" {
		if j, ok := m.list.get(m.opts.JobID); ok && j.State.Terminal() {
			m.final = &j
			m.source.Close()
			return m, tea.Quit
		}
	}
	return m, m.waitForEnvelope()
}

func (m *Model) filter(jobs []models.Job) []models.Job {
	if m.opts.JobID == "" {
		return jobs
	}
	for _, j := range jobs {
		if j.ID == m.opts.JobID {
			return []models.Job{j}
		}
	}
	return nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.source.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.down):
		if m.cursor < m.list.len()-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.clear):
		m.list.prune()
		m.cursor = min(m.cursor, max(0, m.list.len()-1))
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.cancel):
		j, ok := m.list.at(m.cursor)
		if !ok || j.State.Terminal() || m.jobs == nil {
			return m, nil
		}
		return m, m.cancel(j.ID)
	}
	return m, nil
}

func (m *Model) waitForEnvelope() tea.Cmd {
	return func() tea.Msg {
		env, err := m.source.Next()
		if err != nil {
			return streamClosedMsg(err)
		}
		return envelopeMsg(env)
	}
}

func (m *Model) heartbeat() tea.Cmd {
	return tea.Tick(m.opts.Heartbeat, func(time.Time) tea.Msg { return heartbeatMsg() })
}

func (m *Model) cancel(jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		return cancelSentMsg(jobID, m.jobs.Cancel(ctx, jobID))
	}
}

// View renders the job table.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("podtasks"))
	b.WriteString("\n")

	if !m.synced {
		fmt.Fprintf(&b, "%s connecting...\n", m.spinner.View())
		return b.String()
	}

	if m.list.len() == 0 {
		b.WriteString(styles.help.Render("No jobs yet."))
		b.WriteString("\n")
	}

	now := m.opts.Now()
	for i := 0; i < m.list.len(); i++ {
		j, _ := m.list.at(i)
		b.WriteString(m.renderJob(j, i == m.cursor, now))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderJob(j models.Job, selected bool, now time.Time) string {
	pointer := "  "
	id := short(j.ID)
	if selected {
		pointer = styles.selected.Render("> ")
		id = styles.selected.Render(id)
	}

	indicator := m.bar.ViewAs(float64(j.Progress) / 100)
	if j.State == models.StateQueued {
		indicator = m.spinner.View() + " " + styles.help.Render("waiting")
	}

	line := fmt.Sprintf("%s%s  %-16s %s  %s", pointer, id, j.Kind, indicator, styles.state(j.State))
	if elapsed := formatter.Elapsed(j, now); elapsed > 0 {
		line += styles.help.Render("  " + elapsed.String())
	}

	switch {
	case j.Error != "":
		line += "\n    " + styles.err.Render(j.Error)
	case j.Stage != "":
		line += "\n    " + styles.help.Render(j.Stage)
	}
	return line
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
