package media

import (
	"context"
	"fmt"

	"github.com/lectorlabs/lector-core/internal/client"
	"github.com/lectorlabs/lector-core/internal/playback"
)

// Source adapts one document on a lectord server into a playback.Source.
type Source struct {
	api    *client.Client
	engine *Engine
	id     string
}

func NewSource(api *client.Client, engine *Engine, documentID string) *Source {
	return &Source{api: api, engine: engine, id: documentID}
}

func (s *Source) Refresh(ctx context.Context) (playback.DocumentState, error) {
	status, err := s.api.Status(ctx, s.id)
	if err != nil {
		return playback.DocumentState{}, err
	}
	return playback.DocumentState{
		Total:     status.SegmentsTotal,
		Available: status.SegmentsCompleted,
		Failed:    status.Status == "error",
	}, nil
}

func (s *Source) OpenTrack(ctx context.Context, index int) (playback.Track, error) {
	data, err := s.api.Stream(ctx, s.id, index)
	if err != nil {
		return nil, fmt.Errorf("fetch segment %d: %w", index, err)
	}
	return newTrack(s.engine, data)
}
