package buffer

import (
	"log/slog"
	"sort"

	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// Fetcher schedules segment requests. *fetch.Pipeline implements it.
type Fetcher interface {
	CreateRequest(req fetch.Request, priority int, done func(*fetch.Result, error)) *fetch.Handle
	UpdatePriority(h *fetch.Handle, priority int)
	Cancel(h *fetch.Handle)
}

// Chooser picks the representation to play among playable ones, sorted by
// ascending bitrate.
type Chooser interface {
	Choose(t media.Type, reps []*media.Representation) *media.Representation
}

// Env is the per-session state shared by every buffer of an orchestrator.
// Post must be safe for concurrent use: fetch and sink callbacks call it
// from their own goroutines.
type Env struct {
	Manifest *media.Manifest
	Store    *sink.Store
	Fetcher  Fetcher
	Chooser  Chooser
	Post     func(Message)
	Logger   *slog.Logger
	Config   Config

	lastBufferID  uint64
	manualBitrate map[media.Type]int
	trackOverride map[media.Type]string
}

func (e *Env) init() {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Post == nil {
		e.Post = func(Message) {}
	}
	if e.manualBitrate == nil {
		e.manualBitrate = make(map[media.Type]int)
	}
	if e.trackOverride == nil {
		e.trackOverride = make(map[media.Type]string)
	}
}

func (e *Env) nextBufferID() uint64 {
	e.lastBufferID++
	return e.lastBufferID
}

// chooseAdaptation returns the adaptation of t to play in p: an explicit
// selection first, then the preferred language, then the first listed.
func (e *Env) chooseAdaptation(t media.Type, p *media.Period) *media.Adaptation {
	adaptations := p.AdaptationsFor(t)
	if len(adaptations) == 0 {
		return nil
	}
	if id, ok := e.trackOverride[t]; ok {
		if a := p.AdaptationByID(t, id); a != nil {
			return a
		}
	}
	lang := ""
	switch t {
	case media.TypeAudio:
		lang = e.Config.PreferredAudioLanguage
	case media.TypeText:
		lang = e.Config.PreferredTextLanguage
	}
	if lang != "" {
		for _, a := range adaptations {
			if a.Language == lang {
				return a
			}
		}
	}
	return adaptations[0]
}

// chooseRepresentation returns the representation of a to play, or nil when
// none is decipherable.
func (e *Env) chooseRepresentation(t media.Type, a *media.Adaptation) *media.Representation {
	reps := a.PlayableRepresentations()
	if len(reps) == 0 {
		return nil
	}
	if manual := e.manualBitrate[t]; manual > 0 {
		// highest bitrate not above the manual one, else the lowest
		idx := sort.Search(len(reps), func(i int) bool { return reps[i].Bitrate > manual })
		if idx == 0 {
			return reps[0]
		}
		return reps[idx-1]
	}
	if e.Chooser != nil {
		if r := e.Chooser.Choose(t, reps); r != nil {
			return r
		}
	}
	return reps[0]
}
