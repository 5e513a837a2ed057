package session

import (
	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/canvas"
)

// dropFragments receives fragment-mode drops from the canvas resolver. The
// resolver runs inside Do, so the session lock is already held.
type dropFragments struct{ s *Session }

func (d dropFragments) EditOnCanvas(b *block.Block) error {
	d.s.openFragment(canvas.Fragment{
		Root:  b,
		Label: "Save",
		Name:  b.ComponentName(),
		ID:    b.ID(),
		Kind:  canvas.FragmentBlock,
	})
	return nil
}

// EditOnCanvas opens b on a fragment canvas. Saving it only leaves the
// fragment.
func (s *Session) EditOnCanvas(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dropFragments{s}.EditOnCanvas(b)
}

// EditFragment opens f on its own canvas, replacing any open fragment.
// Edits made through Do apply to it until SaveFragment or ExitFragment.
func (s *Session) EditFragment(f canvas.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openFragment(f)
	return nil
}

func (s *Session) openFragment(f canvas.Fragment) {
	s.closeFragment()
	s.fragment = &openFragment{Fragment: f, canvas: s.newCanvas(f.Root)}
}

// closeFragment drops the open fragment and runs its OnExit. Callers hold
// mu.
func (s *Session) closeFragment() {
	f := s.fragment
	if f == nil {
		return
	}
	s.fragment = nil
	f.canvas.Close()
	if f.OnExit != nil {
		f.OnExit()
	}
}

// SaveFragment hands the fragment's block to its OnSave and leaves the
// fragment when that succeeds. On failure the fragment stays open.
func (s *Session) SaveFragment() error {
	s.mu.Lock()
	f := s.fragment
	s.mu.Unlock()
	if f == nil {
		return ErrNoFragment
	}
	if f.OnSave != nil {
		if err := f.OnSave(f.canvas.Root()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fragment == f {
		s.closeFragment()
	}
	return nil
}

// ExitFragment leaves the fragment without saving.
func (s *Session) ExitFragment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fragment == nil {
		return ErrNoFragment
	}
	s.closeFragment()
	return nil
}

// InFragment reports whether a fragment canvas is open.
func (s *Session) InFragment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fragment != nil
}
