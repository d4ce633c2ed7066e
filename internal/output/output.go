package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"mediator/internal/domain"
)

// Formatter writes user-facing lines. It is safe for concurrent use so the
// warning and live-status goroutines can share the terminal.
type Formatter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) printf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, format, args...)
}

func (f *Formatter) Banner(name, version string, liveTranscription bool) {
	f.printf("🕊️  %s %s\n", name, version)
	if !liveTranscription {
		f.printf("⚠️  实时语音识别不可用，录音将只记录时长\n")
	}
	f.printf("输入 help 查看命令\n\n")
}

func (f *Formatter) Help() {
	f.printf(`命令:
  a | b          选择发言人 (第一位 / 第二位)
  start          开始录音
  stop           停止录音
  reset          清除当前发言人的录音
  say <text>     手动输入一段识别文字 (录音中)
  status         查看两位的录音状态
  analyze        两位都录完后生成调解报告
  quit           退出
`)
}

func (f *Formatter) PartySelected(p domain.Party) {
	f.printf("👉 当前发言人: %s\n", p.Label())
}

func (f *Formatter) RecordingStarted(p domain.Party) {
	f.printf("🎙️  %s开始录音 (输入 stop 结束)\n", p.Label())
}

func (f *Formatter) RecordingStopped(p domain.Party, s domain.RecordingState) {
	f.printf("⏹️  %s录音结束 (%s)\n", p.Label(), domain.FormatElapsed(s.ElapsedSeconds))
	f.printf("   %s\n", s.Statement())
}

func (f *Formatter) RecordingReset(p domain.Party) {
	f.printf("🔄 已清除%s的录音\n", p.Label())
}

// Live shows a running recording: timer, transcript so far and the pending
// interim fragment.
func (f *Formatter) Live(p domain.Party, s domain.RecordingState) {
	var b strings.Builder
	fmt.Fprintf(&b, "🔴 %s %s", p.Label(), domain.FormatElapsed(s.ElapsedSeconds))
	if s.FinalTranscript != "" {
		fmt.Fprintf(&b, " | %s", s.FinalTranscript)
	}
	if s.InterimTranscript != "" {
		fmt.Fprintf(&b, " …%s", s.InterimTranscript)
	}
	f.printf("%s\n", b.String())
}

func (f *Formatter) Status(active domain.Party, states [2]domain.RecordingState, ready bool) {
	for _, p := range domain.Parties {
		s := states[p]

		cursor := "  "
		if p == active {
			cursor = "▶ "
		}

		mark := "○"
		switch {
		case s.IsRecording:
			mark = "🔴"
		case s.Recorded():
			mark = "✓"
		}

		line := fmt.Sprintf("%s%s %s %s", cursor, mark, p.Label(), domain.FormatElapsed(s.ElapsedSeconds))
		if content := s.Statement(); content != "" && !s.IsRecording {
			line += " | " + content
		}
		f.printf("%s\n", line)
	}
	if ready {
		f.printf("✅ 两位都已录音，可以输入 analyze 生成报告\n")
	}
}

func (f *Formatter) Analyzing() {
	f.printf("🤖 正在分析...\n")
}

func (f *Formatter) Report(r domain.AnalysisResult) {
	f.printf("\n%s\n\n", strings.TrimSpace(r.Markdown))
	if r.Fallback {
		f.printf("ℹ️  AI 服务暂不可用，以上为默认建议 (%s)\n", r.Reason)
	}
}

func (f *Formatter) HistoryHeader() {
	f.printf("📜 调解记录:\n\n")
}

func (f *Formatter) HistoryItem(r domain.HistoryRecord) {
	f.printf("  %s %s  %s  [%s]\n", r.Date, r.Time, r.Issue, r.Status)
	f.printf("     和谐度 %d%%  %s\n", r.HarmonyScore, r.KeyResolution)
}

func (f *Formatter) HistorySummary(total, resolved, average int) {
	f.printf("\n共 %d 次调解，已解决 %d 次，平均和谐度 %d%%\n", total, resolved, average)
}

func (f *Formatter) Error(msg string) {
	f.printf("❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	f.printf("ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	f.printf("✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	f.printf("⚠️  %s\n", msg)
}
