package internal

import "sync/atomic"

// StopToken is polled at batch boundaries. It returns nil to continue,
// ErrPaused or ErrCancelled to stop.
type StopToken interface {
	Stopped() error
}

type StopFunc func() error

func (f StopFunc) Stopped() error {
	if f == nil {
		return nil
	}
	return f()
}

const (
	stopNone int32 = iota
	stopPause
	stopCancel
)

type Stopper struct {
	state atomic.Int32
}

func NewStopper() *Stopper {
	return &Stopper{}
}

func (s *Stopper) Pause() {
	s.state.CompareAndSwap(stopNone, stopPause)
}

func (s *Stopper) Cancel() {
	s.state.Store(stopCancel)
}

func (s *Stopper) Stopped() error {
	switch s.state.Load() {
	case stopPause:
		return ErrPaused
	case stopCancel:
		return ErrCancelled
	default:
		return nil
	}
}

// AnyStop returns the first stop reported by any of the tokens.
func AnyStop(tokens ...StopToken) StopToken {
	return StopFunc(func() error {
		for _, t := range tokens {
			if t == nil {
				continue
			}
			if err := t.Stopped(); err != nil {
				return err
			}
		}
		return nil
	})
}

func CheckStop(t StopToken) error {
	if t == nil {
		return nil
	}
	return t.Stopped()
}
