package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"kimp/internal/application/port"
	"kimp/internal/domain/model"
)

// Sink 终端实时行：每个 tick 原地刷新，每隔 snapshotEvery 额外打印一行带时间的快照
type Sink struct {
	mu            sync.Mutex
	out           io.Writer
	fmt           *Formatter
	snapshotEvery time.Duration
	lastSnapshot  time.Time
}

func NewSink(threshold float64, snapshotEvery time.Duration) *Sink {
	return NewSinkTo(os.Stdout, threshold, snapshotEvery)
}

func NewSinkTo(out io.Writer, threshold float64, snapshotEvery time.Duration) *Sink {
	return &Sink{out: out, fmt: NewFormatter(threshold), snapshotEvery: snapshotEvery}
}

func (s *Sink) Name() string { return "console" }

func (s *Sink) Publish(_ context.Context, snap *model.SpreadSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshotEvery > 0 && snap.ComputedAt.Sub(s.lastSnapshot) >= s.snapshotEvery {
		s.lastSnapshot = snap.ComputedAt
		// 打印快照行后留一个空行占位，下一次 live 刷新覆盖它
		if _, err := fmt.Fprintf(s.out, "\n%s %s\n", snap.ComputedAt.Format("2006-01-02 15:04:05"), s.fmt.Render(snap, RenderSnapshot)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(s.out, s.fmt.Render(snap, RenderLive)) // no newline
	return err
}

// NewLine 退出时结束实时行
func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\n")
	return err
}

var _ port.SnapshotSink = (*Sink)(nil)
