package natsengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// localSession replicates between two stores in the same process, with no
// broker in between. Checkpoints are persisted in the session's local store
// so a restarted session resumes instead of re-copying.
type localSession struct {
	*tracker
	logger *slog.Logger
	params engine.Params

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	wg       sync.WaitGroup

	errMu    sync.Mutex
	fatalErr *engine.Error
}

func newLocalSession(params engine.Params, opts map[string]any, logger *slog.Logger) (*localSession, error) {
	s := &localSession{
		tracker: newTracker(params.OnStatusChanged),
		logger: logger.With(
			"session", "local",
			"db", params.Local.Name(),
			"other", params.OtherLocal.Name(),
		),
		params: params,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bind(s)

	if engine.ResetCheckpointRequested(opts) {
		if err := params.Local.DeleteState(s.checkpointKey("push")); err != nil {
			return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeCheckpoint, Message: err.Error()}
		}
		if err := params.Local.DeleteState(s.checkpointKey("pull")); err != nil {
			return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeCheckpoint, Message: err.Error()}
		}
		s.logger.Info("checkpoint reset")
	}

	if params.Push != engine.ModeDisabled {
		s.wg.Add(1)
		go s.copyLoop("push", params.Local, params.OtherLocal, params.PushFilter, params.Push == engine.ModeContinuous)
	}
	if params.Pull != engine.ModeDisabled {
		s.wg.Add(1)
		go s.copyLoop("pull", params.OtherLocal, params.Local, params.PullFilter, params.Pull == engine.ModeContinuous)
	}
	go s.supervise()

	return s, nil
}

// Stop requests termination; the terminal status follows from the
// supervisor.
func (s *localSession) Stop() {
	s.stopOnce.Do(s.cancel)
}

func (s *localSession) supervise() {
	s.wg.Wait()
	s.cancel()

	s.errMu.Lock()
	err := s.fatalErr
	s.errMu.Unlock()

	s.level(engine.Stopped, err)
	s.logger.Info("session stopped")
}

func (s *localSession) fatal(err *engine.Error) {
	s.errMu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.errMu.Unlock()
	s.cancel()
}

// copyLoop moves revisions from src to dst, checkpointing in the session's
// local store. For the pull direction the filter is the pull filter; local
// endpoints normally validate it away, but the engine honors it if present.
func (s *localSession) copyLoop(direction string, src, dst *document.Store, filter engine.RevisionFunc, continuous bool) {
	defer s.wg.Done()

	key := s.checkpointKey(direction)
	cp, err := s.params.Local.GetState(key)
	if err != nil {
		s.fatal(&engine.Error{Domain: engine.DomainEngine, Code: codeCheckpoint, Message: err.Error()})
		return
	}
	if last, err := src.LastSequence(); err == nil && last > cp {
		s.addTotal(last - cp)
	}

	for {
		if s.ctx.Err() != nil {
			return
		}

		revs, err := src.ChangesSince(cp, pushBatchSize)
		if err != nil {
			s.fatal(&engine.Error{Domain: engine.DomainEngine, Code: codeTransfer, Message: fmt.Sprintf("read changes: %v", err)})
			return
		}

		if len(revs) == 0 {
			if !continuous {
				return
			}
			s.level(engine.Idle, nil)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		s.level(engine.Busy, nil)
		for _, rev := range revs {
			if s.ctx.Err() != nil {
				return
			}

			accepted := filter == nil || filter(rev)
			if accepted {
				if err := dst.Apply(rev); err != nil {
					s.fatal(&engine.Error{Domain: engine.DomainEngine, Code: codeTransfer, Message: fmt.Sprintf("apply %s: %v", rev.DocID, err)})
					return
				}
			}

			cp = rev.Sequence
			if err := s.params.Local.SetState(key, cp); err != nil {
				s.fatal(&engine.Error{Domain: engine.DomainEngine, Code: codeCheckpoint, Message: err.Error()})
				return
			}
			docs := uint64(0)
			if accepted {
				docs = 1
			}
			s.progress(1, docs)
		}
	}
}

func (s *localSession) checkpointKey(direction string) string {
	return fmt.Sprintf("checkpoint.%s.%s", direction, s.params.OtherLocal.Name())
}
