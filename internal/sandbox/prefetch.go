package sandbox

import (
	"context"
	"log/slog"

	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/puzpuzpuz/xsync/v3"
)

type Puller interface {
	Prefetch(ctx context.Context, lang task.Language) bool
}

type pull struct {
	done chan struct{}
	ok   bool
}

// Prefetcher pulls language images in the background, one at a time,
// prioritizing images someone is already waiting for.
type Prefetcher struct {
	puller    Puller
	logger    *slog.Logger
	pulls     *xsync.MapOf[task.Language, *pull]
	scheduled chan task.Language
	awaited   chan task.Language
	stopped   chan struct{}
}

func NewPrefetcher(puller Puller, logger *slog.Logger) *Prefetcher {
	return &Prefetcher{
		puller:    puller,
		logger:    logger.With("component", "prefetcher"),
		pulls:     xsync.NewMapOf[task.Language, *pull](),
		scheduled: make(chan task.Language, 64),
		awaited:   make(chan task.Language, 64),
		stopped:   make(chan struct{}),
	}
}

// Start runs the pull loop until ctx is done.
func (p *Prefetcher) Start(ctx context.Context) {
	go func() {
		defer close(p.stopped)
		for {
			var lang task.Language
			select {
			case <-ctx.Done():
				return
			case lang = <-p.awaited:
			default:
				select {
				case <-ctx.Done():
					return
				case lang = <-p.awaited:
				case lang = <-p.scheduled:
				}
			}
			p.pullIfPending(ctx, lang)
		}
	}()
}

// Stopped is closed once the pull loop has exited.
func (p *Prefetcher) Stopped() <-chan struct{} {
	return p.stopped
}

// Schedule queues a pull of lang's image unless one was already scheduled.
func (p *Prefetcher) Schedule(lang task.Language) {
	_, loaded := p.pulls.LoadOrCompute(lang, func() *pull {
		return &pull{done: make(chan struct{})}
	})
	if loaded {
		return
	}
	select {
	case p.scheduled <- lang:
	default:
		p.logger.Warn("prefetch queue full, skipping", "language", lang)
		p.finish(lang, false)
	}
}

// Await waits until the pull of lang has finished and reports whether it
// succeeded. Languages never scheduled return false immediately.
func (p *Prefetcher) Await(ctx context.Context, lang task.Language) bool {
	pl, ok := p.pulls.Load(lang)
	if !ok {
		return false
	}
	select {
	case p.awaited <- lang:
	default:
	}
	select {
	case <-pl.done:
		return pl.ok
	case <-ctx.Done():
		return false
	case <-p.stopped:
		select {
		case <-pl.done:
			return pl.ok
		default:
			return false
		}
	}
}

func (p *Prefetcher) pullIfPending(ctx context.Context, lang task.Language) {
	pl, ok := p.pulls.Load(lang)
	if !ok {
		return
	}
	select {
	case <-pl.done:
		return
	default:
	}
	p.finish(lang, p.puller.Prefetch(ctx, lang))
}

func (p *Prefetcher) finish(lang task.Language, ok bool) {
	pl, exists := p.pulls.Load(lang)
	if !exists {
		return
	}
	pl.ok = ok
	close(pl.done)
}
