package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/codepanel"
	"github.com/chadiek/algoviz/internal/config"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/render"
	"github.com/chadiek/algoviz/internal/step"
)

type runService interface {
	Run(ctx context.Context, problem string, params map[string]any, compact bool) (*step.Run, error)
	Problems(ctx context.Context) ([]backend.Problem, error)
}

type replayOptions struct {
	problem string
	params  map[string]string
	from    int
	to      int
	speed   int
	logs    bool
	code    bool
	sched   playback.Scheduler
}

func replayCmd() *cobra.Command {
	var (
		opts    replayOptions
		service string
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play a problem's steps in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if service == "" {
				service = config.Load().ServiceURL
			}
			svc := backend.NewClient(service)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if list {
				return listProblems(ctx, cmd.OutOrStdout(), svc)
			}
			if opts.problem == "" {
				return fmt.Errorf("--problem is required")
			}
			return replay(ctx, cmd.OutOrStdout(), svc, opts)
		},
	}
	cmd.Flags().StringVar(&opts.problem, "problem", "", "Problem to run")
	cmd.Flags().StringToStringVar(&opts.params, "param", nil, "Problem parameter key=value; values are parsed as JSON when possible")
	cmd.Flags().IntVar(&opts.from, "from", 0, "First step to play")
	cmd.Flags().IntVar(&opts.to, "to", -1, "Last step to play (default: the final step)")
	cmd.Flags().IntVar(&opts.speed, "speed", 10, "Playback speed, 1 (slow) to 20 (fast)")
	cmd.Flags().BoolVar(&opts.logs, "logs", false, "Print the latest log line with each step")
	cmd.Flags().BoolVar(&opts.code, "code", false, "Print the source with the current line marked")
	cmd.Flags().StringVar(&service, "service", "", "Execution service URL (default: ALGO_SERVICE_URL)")
	cmd.Flags().BoolVar(&list, "list", false, "List available problems and exit")
	return cmd
}

func replay(ctx context.Context, out io.Writer, svc runService, opts replayOptions) error {
	run, err := svc.Run(ctx, opts.problem, parseParams(opts.params), true)
	if err != nil {
		return fmt.Errorf("run %s: %w", opts.problem, err)
	}
	r, err := render.ForKind(run.Kind)
	if err != nil {
		return err
	}
	if len(run.Steps) == 0 {
		_, _ = fmt.Fprintln(out, "no steps")
		return nil
	}

	sched := opts.sched
	if sched == nil {
		sched = playback.TickerScheduler{}
	}
	panel := codepanel.New()
	panel.Load(run.SourceCode)
	watch := newStopWatch()
	d := render.NewDispatcher(panel, render.WriterSink{W: out, ShowLogs: opts.logs})
	if opts.code {
		d.AddSink(render.SinkFunc(func(render.Frame) { _, _ = io.WriteString(out, panel.View()) }))
	}
	d.AddSink(watch)
	d.SetRenderer(r)

	eng := playback.New(sched, d)
	eng.SetSpeed(opts.speed)
	eng.Load(run.Steps, playback.OriginUser)
	to := opts.to
	if to < 0 {
		to = len(run.Steps) - 1
	}
	eng.PlayRange(opts.from, to, playback.OriginUser)

	select {
	case <-watch.done:
	case <-ctx.Done():
		eng.Pause(playback.OriginSystem)
		if _, idx := d.LastShown(); idx >= 0 {
			_, _ = fmt.Fprintf(out, "stopped at step %d / %d\n", idx+1, len(run.Steps))
		}
	}
	return nil
}

// stopWatch closes done the first time playback stops after it started.
type stopWatch struct {
	started bool
	once    sync.Once
	done    chan struct{}
}

func newStopWatch() *stopWatch { return &stopWatch{done: make(chan struct{})} }

func (w *stopWatch) Push(f render.Frame) {
	if f.Playing {
		w.started = true
		return
	}
	if w.started {
		w.once.Do(func() { close(w.done) })
	}
}

func parseParams(raw map[string]string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			out[k] = parsed
		} else {
			out[k] = v
		}
	}
	return out
}

func listProblems(ctx context.Context, out io.Writer, svc runService) error {
	problems, err := svc.Problems(ctx)
	if err != nil {
		return fmt.Errorf("list problems: %w", err)
	}
	if len(problems) == 0 {
		_, _ = fmt.Fprintln(out, "no problems available")
		return nil
	}
	rows := make([][]string, len(problems))
	for i, p := range problems {
		rows[i] = []string{p.Name, p.Topic, p.RendererType, p.Description}
	}
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("PROBLEM", "TOPIC", "RENDERER", "DESCRIPTION").
		Rows(rows...)
	_, _ = fmt.Fprintln(out, t.String())
	return nil
}
