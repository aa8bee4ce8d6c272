// Package playback turns a sequence of per-segment audio tracks into one
// continuous listening session with a single absolute timeline.
package playback

import "context"

// Track is one segment's playable audio.
type Track interface {
	// Duration reports the track length in seconds.
	Duration() float64
	// Start begins playback at the given offset in seconds, restarting if
	// the track is already playing.
	Start(offset float64) error
	Pause()
	Resume()
	// Position reports seconds played into this track.
	Position() float64
	// Done is closed when the track reaches its natural end.
	Done() <-chan struct{}
	Close() error
}

// DocumentState is a point-in-time view of a document's generation progress.
type DocumentState struct {
	Total     int  // segments in the document, 0 until segmentation ran
	Available int  // segments whose audio can be opened now
	Failed    bool // generation ended in error; no more segments will appear
}

// Source supplies tracks for a document's segments in index order. Segments
// past Available may become openable later while generation is still running.
type Source interface {
	Refresh(ctx context.Context) (DocumentState, error)
	OpenTrack(ctx context.Context, index int) (Track, error)
}
