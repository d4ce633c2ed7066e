package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mediator/internal/application"
	"mediator/internal/domain"
	"mediator/internal/output"
	"mediator/internal/version"
)

func NewSessionCmd(deps *Dependencies) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record both parties and request a mediation report",
		Long: "Interactive session: pick a speaker, start and stop their recording, " +
			"and once both have spoken run analyze.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())
			return runSession(cmd.Context(), deps, cmd.InOrStdin(), formatter, live)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "print the timer and transcript every second while recording")

	return cmd
}

func runSession(ctx context.Context, deps *Dependencies, in io.Reader, formatter *output.Formatter, live bool) error {
	if deps.App.Relay != nil {
		if err := deps.App.Relay.Start(ctx); err != nil {
			return err
		}
		defer deps.App.Relay.Stop()
	}

	session := deps.App.NewSession()
	r := &sessionREPL{
		session:   session,
		mediator:  deps.App.NewMediator(session),
		formatter: formatter,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for w := range session.Warnings() {
			formatter.Warning(w.Error())
		}
	}()

	liveCtx, stopLive := context.WithCancel(ctx)
	if live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.showLive(liveCtx)
		}()
	}

	defer func() {
		stopLive()
		session.Close()
		wg.Wait()
	}()

	formatter.Banner(version.AppName, version.Version, session.Supported())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if r.handle(ctx, line) {
				return nil
			}
		}
	}
}

type sessionREPL struct {
	session   *application.Session
	mediator  *application.Mediator
	formatter *output.Formatter
}

// handle runs one command line and reports whether the session should end.
func (r *sessionREPL) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
	case "a", "b", "1", "2", "第一位", "第二位":
		r.selectParty(cmd)
	case "select":
		r.selectParty(arg)
	case "start":
		if err := r.session.StartRecording(); err != nil {
			r.fail(err)
			return false
		}
		r.formatter.RecordingStarted(r.session.Active())
	case "stop":
		if err := r.session.StopRecording(); err != nil {
			r.fail(err)
			return false
		}
		p := r.session.Active()
		r.formatter.RecordingStopped(p, r.session.State(p))
		r.showStatus()
	case "reset":
		p := r.session.Active()
		r.session.ResetRecording()
		r.formatter.RecordingReset(p)
	case "say":
		p := r.session.Active()
		if !r.session.State(p).IsRecording {
			r.fail(domain.ErrNotRecording)
			return false
		}
		r.session.ApplyRecognitionEvent(p, arg, "")
	case "status":
		r.showStatus()
	case "analyze":
		return r.analyze(ctx)
	case "help", "?":
		r.formatter.Help()
	case "quit", "exit", "q":
		return true
	default:
		r.formatter.Error("未知命令: " + cmd + " (输入 help 查看命令)")
	}
	return false
}

func (r *sessionREPL) selectParty(s string) {
	p, err := domain.ParseParty(s)
	if err != nil {
		r.fail(err)
		return
	}
	if err := r.session.SelectActiveParty(p); err != nil {
		r.fail(err)
		return
	}
	r.formatter.PartySelected(p)
}

func (r *sessionREPL) analyze(ctx context.Context) bool {
	if !r.session.ReadyToProceed() {
		r.fail(domain.ErrNotReady)
		return false
	}

	r.formatter.Analyzing()
	result, err := r.mediator.Analyze(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		r.fail(err)
		return false
	}
	r.formatter.Report(result)
	return false
}

func (r *sessionREPL) showStatus() {
	states := [2]domain.RecordingState{
		r.session.State(domain.PartyA),
		r.session.State(domain.PartyB),
	}
	r.formatter.Status(r.session.Active(), states, r.session.ReadyToProceed())
}

func (r *sessionREPL) showLive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := r.session.Active()
			if s := r.session.State(p); s.IsRecording {
				r.formatter.Live(p, s)
			}
		}
	}
}

func (r *sessionREPL) fail(err error) {
	r.formatter.Error(describe(err))
}

func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrRecordingInProgress):
		return "正在录音，请先 stop"
	case errors.Is(err, domain.ErrAlreadyRecording):
		return "已经在录音了"
	case errors.Is(err, domain.ErrNotRecording):
		return "当前发言人没有在录音"
	case errors.Is(err, domain.ErrNotReady):
		return "请两位都录完音后再分析"
	case errors.Is(err, domain.ErrInvalidParty):
		return "请选择 a (第一位) 或 b (第二位)"
	case errors.Is(err, domain.ErrSessionClosed):
		return "会话已结束"
	default:
		return err.Error()
	}
}
