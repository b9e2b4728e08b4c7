package sink

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmylchreest/playcore/internal/media"
)

// CueSink is the custom sink for text tracks. It stores parsed cues and
// completes operations synchronously.
type CueSink struct {
	mu       sync.Mutex
	cues     []media.Cue
	buffered media.TimeRanges
}

// NewCueSink creates an empty text sink.
func NewCueSink() *CueSink {
	return &CueSink{}
}

// Type implements Sink.
func (s *CueSink) Type() media.Type {
	return media.TypeText
}

// Append implements Sink. The chunk payload must be a []media.Cue.
func (s *CueSink) Append(chunk Chunk, done func(error)) {
	if !chunk.HasMedia() {
		done(nil)
		return
	}
	cues, ok := chunk.Payload.([]media.Cue)
	if !ok && chunk.Payload != nil {
		done(fmt.Errorf("unexpected text payload %T", chunk.Payload))
		return
	}

	s.mu.Lock()
	start, end := chunk.Start, chunk.End
	if w := chunk.AppendWindow; w.End > w.Start {
		start = max(start, w.Start)
		end = min(end, w.End)
	}
	// replace cues of the covered range
	kept := s.cues[:0:0]
	for _, c := range s.cues {
		if c.Start >= start && c.Start < end {
			continue
		}
		kept = append(kept, c)
	}
	for _, c := range cues {
		if c.End <= start || c.Start >= end {
			continue
		}
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	s.cues = kept
	if end > start {
		s.buffered = s.buffered.Add(start, end)
	}
	s.mu.Unlock()

	done(nil)
}

// Remove implements Sink.
func (s *CueSink) Remove(start, end float64, done func(error)) {
	s.mu.Lock()
	kept := s.cues[:0:0]
	for _, c := range s.cues {
		if c.Start >= start && c.Start < end {
			continue
		}
		kept = append(kept, c)
	}
	s.cues = kept
	s.buffered = s.buffered.Remove(start, end)
	s.mu.Unlock()
	done(nil)
}

// Buffered implements Sink.
func (s *CueSink) Buffered() media.TimeRanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered.Clone()
}

// Updating implements Sink.
func (s *CueSink) Updating() bool { return false }

// Abort implements Sink.
func (s *CueSink) Abort() {}

// ActiveCues returns the cues displayed at t.
func (s *CueSink) ActiveCues(t float64) []media.Cue {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []media.Cue
	for _, c := range s.cues {
		if c.Start <= t && t < c.End {
			out = append(out, c)
		}
	}
	return out
}

// CueCount returns the number of stored cues.
func (s *CueSink) CueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cues)
}

// ThumbnailSink is the custom sink for image tracks.
type ThumbnailSink struct {
	mu       sync.Mutex
	thumbs   []media.Thumbnail
	buffered media.TimeRanges
}

// NewThumbnailSink creates an empty image sink.
func NewThumbnailSink() *ThumbnailSink {
	return &ThumbnailSink{}
}

// Type implements Sink.
func (s *ThumbnailSink) Type() media.Type {
	return media.TypeImage
}

// Append implements Sink. The chunk payload must be a media.Thumbnail.
func (s *ThumbnailSink) Append(chunk Chunk, done func(error)) {
	if !chunk.HasMedia() {
		done(nil)
		return
	}
	thumb, ok := chunk.Payload.(media.Thumbnail)
	if !ok {
		done(fmt.Errorf("unexpected image payload %T", chunk.Payload))
		return
	}
	s.mu.Lock()
	kept := s.thumbs[:0:0]
	for _, t := range s.thumbs {
		if t.Start != thumb.Start {
			kept = append(kept, t)
		}
	}
	kept = append(kept, thumb)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	s.thumbs = kept
	if chunk.End > chunk.Start {
		s.buffered = s.buffered.Add(chunk.Start, chunk.End)
	}
	s.mu.Unlock()
	done(nil)
}

// Remove implements Sink.
func (s *ThumbnailSink) Remove(start, end float64, done func(error)) {
	s.mu.Lock()
	kept := s.thumbs[:0:0]
	for _, t := range s.thumbs {
		if t.Start >= start && t.Start < end {
			continue
		}
		kept = append(kept, t)
	}
	s.thumbs = kept
	s.buffered = s.buffered.Remove(start, end)
	s.mu.Unlock()
	done(nil)
}

// Buffered implements Sink.
func (s *ThumbnailSink) Buffered() media.TimeRanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered.Clone()
}

// Updating implements Sink.
func (s *ThumbnailSink) Updating() bool { return false }

// Abort implements Sink.
func (s *ThumbnailSink) Abort() {}

// ThumbnailAt returns the thumbnail covering t.
func (s *ThumbnailSink) ThumbnailAt(t float64) (media.Thumbnail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, th := range s.thumbs {
		if th.Start <= t && t < th.End {
			return th, true
		}
	}
	return media.Thumbnail{}, false
}
