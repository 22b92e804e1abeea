package server

import (
	"context"
	"errors"
	"sync"

	"github.com/lib-x/facetrack"
)

// feedMessage is what event subscribers receive for every processed frame.
// Seq is set for frames submitted asynchronously.
type feedMessage struct {
	Seq    uint64                `json:"seq,omitempty"`
	Result *facetrack.FeedResult `json:"result,omitempty"`
	Error  *ErrorResponse        `json:"error,omitempty"`
}

// pipelines owns one background facetrack.Pipeline per tracker that has
// received asynchronous frames.
type pipelines struct {
	mu   sync.Mutex
	byID map[uint64]*facetrack.Pipeline
}

func newPipelines() *pipelines {
	return &pipelines{byID: make(map[uint64]*facetrack.Pipeline)}
}

func (s *Server) publishFeed(topic uint64, msg feedMessage) {
	data, err := s.app.Config().JSONEncoder(msg)
	if err != nil {
		s.logger.Warn("encode feed message", "err", err)
		return
	}
	s.events.publish(topic, data)
}

// pipeline returns the tracker's pipeline, starting it on first use.
func (s *Server) pipeline(h facetrack.TrackerHandle, t *facetrack.Tracker) (*facetrack.Pipeline, error) {
	s.async.mu.Lock()
	defer s.async.mu.Unlock()

	topic := h.Uint64()
	if p, ok := s.async.byID[topic]; ok {
		return p, nil
	}
	p, err := facetrack.NewPipeline(t, s.cfg.MaxFaces, func(r facetrack.PipelineResult) {
		msg := feedMessage{Seq: r.Seq}
		if r.Err != nil {
			_, body := errorBody(r.Err)
			msg.Error = &body
		} else {
			msg.Result = &r.Result
		}
		s.publishFeed(topic, msg)
	})
	if err != nil {
		return nil, err
	}
	p.Policy = s.cfg.Policy
	if p.Policy.Logger == nil {
		p.Policy.Logger = s.logger
	}
	if err := p.Start(context.Background()); err != nil {
		return nil, err
	}
	s.async.byID[topic] = p
	return p, nil
}

func (s *Server) stopPipeline(topic uint64) error {
	s.async.mu.Lock()
	p, ok := s.async.byID[topic]
	delete(s.async.byID, topic)
	s.async.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

func (s *Server) stopPipelines() error {
	s.async.mu.Lock()
	all := s.async.byID
	s.async.byID = make(map[uint64]*facetrack.Pipeline)
	s.async.mu.Unlock()

	var errs []error
	for _, p := range all {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
