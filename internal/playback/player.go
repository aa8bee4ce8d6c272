package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type State int32

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrNoSegments is returned when playback starts on a document whose
// segmentation has not produced anything yet.
var ErrNoSegments = errors.New("document has no segments")

const durationUnknown = -1

// Player plays a document's segments back to back and presents them as one
// absolute timeline. Segment boundaries are invisible to the listener: the
// position is the prefix sum of finished segment durations plus the offset
// into the current track.
type Player struct {
	source       Source
	logger       *slog.Logger
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	current   int
	track     Track
	preloaded map[int]Track
	durations []float64
	total     int
	gen       int64 // bumped on every start/seek; stale goroutines check it
}

func NewPlayer(parent context.Context, source Source, log *slog.Logger) *Player {
	ctx, cancel := context.WithCancel(parent)
	return &Player{
		source:       source,
		logger:       log.With(slog.String("component", "playback")),
		pollInterval: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateStopped,
		preloaded:    make(map[int]Track),
	}
}

// Play starts playback from the last position, resuming if paused.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StatePaused && p.track != nil {
		p.track.Resume()
		p.state = StatePlaying
		p.mu.Unlock()
		return nil
	}
	if p.state == StatePlaying {
		p.mu.Unlock()
		return nil
	}
	index := p.current
	p.mu.Unlock()

	if err := p.syncTimeline(ctx); err != nil {
		return err
	}
	return p.startSegment(ctx, index, 0)
}

// Pause halts playback keeping the position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePlaying && p.track != nil {
		p.track.Pause()
		p.state = StatePaused
	}
}

// Toggle flips between playing and paused.
func (p *Player) Toggle(ctx context.Context) error {
	p.mu.Lock()
	playing := p.state == StatePlaying
	p.mu.Unlock()
	if playing {
		p.Pause()
		return nil
	}
	return p.Play(ctx)
}

// Next jumps to the start of the following segment.
func (p *Player) Next(ctx context.Context) error {
	p.mu.Lock()
	index := p.current + 1
	total := p.total
	p.mu.Unlock()
	if total > 0 && index >= total {
		return fmt.Errorf("already at last segment")
	}
	return p.startSegment(ctx, index, 0)
}

// Previous jumps to the start of the preceding segment, or restarts the
// current one when already at the first.
func (p *Player) Previous(ctx context.Context) error {
	p.mu.Lock()
	index := p.current - 1
	p.mu.Unlock()
	if index < 0 {
		index = 0
	}
	return p.startSegment(ctx, index, 0)
}

// SeekBy moves the absolute position by delta seconds.
func (p *Player) SeekBy(ctx context.Context, delta float64) error {
	target := p.Position() + delta
	if target < 0 {
		target = 0
	}
	return p.SeekAbsolute(ctx, target)
}

// SeekAbsolute moves to an absolute position on the document timeline. When
// the target lies in a segment whose duration is not yet known, the seek is
// resolved in the background by measuring segments in order; a later seek or
// segment change cancels it.
func (p *Player) SeekAbsolute(ctx context.Context, target float64) error {
	if target < 0 {
		target = 0
	}
	if err := p.syncTimeline(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	index, offset, ok := locate(p.durations, target)
	p.mu.Unlock()
	if ok {
		return p.startSegment(ctx, index, offset)
	}

	// Deferred seek: durations past some segment are unknown until their
	// tracks have been opened.
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.resolveSeek(gen, target)
	}()
	return nil
}

// Position reports the absolute position in seconds.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var pos float64
	for i := 0; i < p.current && i < len(p.durations); i++ {
		if p.durations[i] > 0 {
			pos += p.durations[i]
		}
	}
	if p.track != nil {
		pos += p.track.Position()
	}
	return pos
}

// Duration reports the summed duration of all measured segments and whether
// every segment has been measured.
func (p *Player) Duration() (seconds float64, complete bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	complete = p.total > 0
	for _, d := range p.durations {
		if d == durationUnknown {
			complete = false
			continue
		}
		seconds += d
	}
	return seconds, complete
}

// State reports the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentSegment reports the index of the segment being played.
func (p *Player) CurrentSegment() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Close stops playback and releases all tracks.
func (p *Player) Close() {
	p.cancel()
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track != nil {
		_ = p.track.Close()
		p.track = nil
	}
	for _, t := range p.preloaded {
		_ = t.Close()
	}
	p.preloaded = make(map[int]Track)
	p.state = StateStopped
}

// syncTimeline refreshes segment counts from the source and sizes the
// duration table.
func (p *Player) syncTimeline(ctx context.Context) error {
	st, err := p.source.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh document: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = st.Total
	for len(p.durations) < st.Total {
		p.durations = append(p.durations, durationUnknown)
	}
	if st.Total == 0 {
		return ErrNoSegments
	}
	return nil
}

// startSegment opens the given segment, starts it at offset, and arranges
// auto-advance plus preload of the following segment.
func (p *Player) startSegment(ctx context.Context, index int, offset float64) error {
	track, err := p.obtainTrack(ctx, index)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.track != nil && p.track != track {
		_ = p.track.Close()
	}
	p.track = track
	p.current = index
	for len(p.durations) <= index {
		p.durations = append(p.durations, durationUnknown)
	}
	p.durations[index] = track.Duration()
	p.state = StatePlaying
	p.mu.Unlock()

	if err := track.Start(offset); err != nil {
		return fmt.Errorf("start segment %d: %w", index, err)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.watchTrack(track, index, gen)
	}()
	go func() {
		defer p.wg.Done()
		p.preload(index+1, gen)
	}()
	return nil
}

// obtainTrack returns the preloaded track for index or opens it, waiting for
// the segment to become available while generation is still running.
func (p *Player) obtainTrack(ctx context.Context, index int) (Track, error) {
	p.mu.Lock()
	if t, ok := p.preloaded[index]; ok {
		delete(p.preloaded, index)
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	for {
		st, err := p.source.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if st.Total > 0 && index >= st.Total {
			return nil, fmt.Errorf("segment %d out of range (total %d)", index, st.Total)
		}
		if index < st.Available {
			return p.source.OpenTrack(ctx, index)
		}
		if st.Failed {
			return nil, fmt.Errorf("segment %d unavailable: generation failed", index)
		}
		// Still generating; wait for the segment to appear.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, p.ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// watchTrack advances to the next segment when the current one finishes.
func (p *Player) watchTrack(track Track, index int, gen int64) {
	select {
	case <-p.ctx.Done():
		return
	case <-track.Done():
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	next := index + 1
	total := p.total
	p.mu.Unlock()

	if total > 0 && next >= total {
		// Re-check: the document may have grown since the timeline was
		// last synced.
		if err := p.syncTimeline(p.ctx); err == nil {
			p.mu.Lock()
			total = p.total
			p.mu.Unlock()
		}
	}
	if total > 0 && next >= total {
		p.mu.Lock()
		p.state = StateDone
		p.mu.Unlock()
		p.logger.Info("document finished", slog.Int("segments", total))
		return
	}

	if err := p.startSegment(p.ctx, next, 0); err != nil {
		p.logger.Warn("auto-advance failed",
			slog.Int("segment", next),
			slog.String("error", err.Error()))
	}
}

// preload opens the next segment ahead of time so auto-advance is gapless.
func (p *Player) preload(index int, gen int64) {
	p.mu.Lock()
	if p.gen != gen || index >= p.total {
		p.mu.Unlock()
		return
	}
	if _, ok := p.preloaded[index]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	st, err := p.source.Refresh(p.ctx)
	if err != nil || index >= st.Available {
		return
	}
	track, err := p.source.OpenTrack(p.ctx, index)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		_ = track.Close()
		return
	}
	p.preloaded[index] = track
	p.durations[index] = track.Duration()
}

// resolveSeek measures unknown segment durations in order until the seek
// target can be located, then jumps there. It aborts as soon as another seek
// or segment change bumps the generation.
func (p *Player) resolveSeek(gen int64, target float64) {
	for {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		index, offset, ok := locate(p.durations, target)
		total := p.total
		p.mu.Unlock()

		if ok {
			if err := p.startSegment(p.ctx, index, offset); err != nil {
				p.logger.Warn("deferred seek failed",
					slog.Float64("target", target),
					slog.String("error", err.Error()))
			}
			return
		}
		if index >= total {
			// Target lies beyond the end of the document; park at the
			// start of the last segment.
			if total > 0 {
				_ = p.startSegment(p.ctx, total-1, 0)
			}
			return
		}

		// Measure the first unknown segment by opening it.
		track, err := p.obtainTrack(p.ctx, index)
		if err != nil {
			p.logger.Warn("deferred seek aborted",
				slog.Int("segment", index),
				slog.String("error", err.Error()))
			return
		}
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			_ = track.Close()
			return
		}
		p.durations[index] = track.Duration()
		p.preloaded[index] = track
		p.mu.Unlock()
	}
}

// locate maps an absolute position to a segment index and offset within it.
// ok is false when the target falls into a segment whose duration is still
// unknown; index then names the first unmeasured segment, or len(durations)
// when the target is past the end of a fully measured document.
func locate(durations []float64, target float64) (index int, offset float64, ok bool) {
	var cum float64
	for i, d := range durations {
		if d == durationUnknown {
			return i, 0, false
		}
		if target < cum+d {
			return i, target - cum, true
		}
		cum += d
	}
	return len(durations), 0, false
}
