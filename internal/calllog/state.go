package calllog

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotated-calllog/internal/store"
)

// Prefs is the preference storage the call log state lives in.
type Prefs interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error
	DeletePref(ctx context.Context, key string) error
}

// State holds the persisted rebuild flags. A fresh install needs a rebuild,
// so ForceRebuild defaults to true.
type State struct {
	prefs Prefs
}

// NewState returns the call log state stored in prefs.
func NewState(prefs Prefs) *State {
	return &State{prefs: prefs}
}

func (s *State) ForceRebuild(ctx context.Context) (bool, error) {
	v, err := s.prefs.GetBool(ctx, store.PrefForceRebuild, true)
	return v, eris.Wrap(err, "calllog: read force rebuild")
}

func (s *State) SetForceRebuild(ctx context.Context, v bool) error {
	return eris.Wrap(s.prefs.SetBool(ctx, store.PrefForceRebuild, v), "calllog: write force rebuild")
}

// IsBuilt reports whether the annotated call log has completed a rebuild.
func (s *State) IsBuilt(ctx context.Context) (bool, error) {
	v, err := s.prefs.GetBool(ctx, store.PrefIsBuilt, false)
	return v, eris.Wrap(err, "calllog: read is built")
}

func (s *State) MarkBuilt(ctx context.Context) error {
	return eris.Wrap(s.prefs.SetBool(ctx, store.PrefIsBuilt, true), "calllog: write is built")
}

// Clear resets both flags to their defaults.
func (s *State) Clear(ctx context.Context) error {
	if err := s.prefs.DeletePref(ctx, store.PrefForceRebuild); err != nil {
		return eris.Wrap(err, "calllog: clear force rebuild")
	}
	return eris.Wrap(s.prefs.DeletePref(ctx, store.PrefIsBuilt), "calllog: clear is built")
}
