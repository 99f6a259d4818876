package natsengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/engine"
	"github.com/syncbridge-io/syncbridge/internal/natsutil"
)

const (
	pushBatchSize = 100
	pullBatchSize = 100
	pollInterval  = 500 * time.Millisecond
	fetchWait     = 2 * time.Second
)

// remoteSession replicates one local store against a database hosted behind
// a NATS broker. Push publishes local changes to the database's stream; pull
// consumes the stream from the checkpointed position and applies revisions
// locally.
type remoteSession struct {
	*tracker
	logger *slog.Logger
	params engine.Params

	nc *nats.Conn
	js jetstream.JetStream
	kv jetstream.KeyValue

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	wg       sync.WaitGroup

	errMu    sync.Mutex
	fatalErr *engine.Error
}

func newRemoteSession(ctx context.Context, params engine.Params, opts map[string]any, logger *slog.Logger) (*remoteSession, error) {
	user, pass, token := authFromOptions(opts)

	nc, err := natsutil.Connect(natsutil.ConnectOptions{
		URL:      params.RemoteURL,
		Logger:   logger,
		Username: user,
		Password: pass,
		Token:    token,
	})
	if err != nil {
		return nil, &engine.Error{Domain: engine.DomainTransport, Code: codeConnect, Message: fmt.Sprintf("connect to %s: %v", params.RemoteURL, err)}
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, &engine.Error{Domain: engine.DomainTransport, Code: codeConnect, Message: fmt.Sprintf("create jetstream context: %v", err)}
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(params.RemoteDatabase),
		Subjects: []string{revisionSubject(params.RemoteDatabase)},
	})
	if err != nil {
		nc.Close()
		return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeStream, Message: fmt.Sprintf("create stream for %s: %v", params.RemoteDatabase, err)}
	}

	bucket := checkpointBucket(params.RemoteDatabase)
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		kv, err = js.KeyValue(ctx, bucket)
		if err != nil {
			nc.Close()
			return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeCheckpoint, Message: fmt.Sprintf("create checkpoint bucket: %v", err)}
		}
	}

	s := &remoteSession{
		tracker: newTracker(params.OnStatusChanged),
		logger: logger.With(
			"session", "remote",
			"db", params.Local.Name(),
			"remote", params.RemoteDatabase,
		),
		params: params,
		nc:     nc,
		js:     js,
		kv:     kv,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bind(s)

	if engine.ResetCheckpointRequested(opts) {
		_ = kv.Delete(ctx, s.checkpointKey("push"))
		_ = kv.Delete(ctx, s.checkpointKey("pull"))
		s.logger.Info("checkpoint reset")
	}

	if params.Push != engine.ModeDisabled {
		s.wg.Add(1)
		go s.pushLoop()
	}
	if params.Pull != engine.ModeDisabled {
		s.wg.Add(1)
		go s.pullLoop()
	}
	go s.supervise()

	return s, nil
}

// Stop requests termination. The terminal status is delivered by the
// supervisor once the workers have drained out.
func (s *remoteSession) Stop() {
	s.stopOnce.Do(s.cancel)
}

// supervise waits for the workers and reports the single terminal status.
func (s *remoteSession) supervise() {
	s.wg.Wait()
	s.cancel()

	s.errMu.Lock()
	err := s.fatalErr
	s.errMu.Unlock()

	s.level(engine.Stopped, err)
	s.nc.Close()
	s.logger.Info("session stopped")
}

// fatal records the error that terminates the session and stops the workers.
func (s *remoteSession) fatal(err *engine.Error) {
	s.errMu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.errMu.Unlock()
	s.cancel()
}

func (s *remoteSession) pushLoop() {
	defer s.wg.Done()

	cp := s.checkpoint("push")
	if last, err := s.params.Local.LastSequence(); err == nil && last > cp {
		s.addTotal(last - cp)
	}

	continuous := s.params.Push == engine.ModeContinuous
	for {
		if s.ctx.Err() != nil {
			return
		}

		revs, err := s.params.Local.ChangesSince(cp, pushBatchSize)
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

			accepted := s.params.PushFilter == nil || s.params.PushFilter(rev)
			if accepted {
				if err := s.publish(rev); err != nil {
					if s.ctx.Err() != nil {
						return
					}
					s.logger.Warn("publish failed, retrying", "doc", rev.DocID, "error", err)
					s.level(engine.Offline, &engine.Error{Domain: engine.DomainTransport, Code: codeTransfer, Message: err.Error()})
					select {
					case <-s.ctx.Done():
						return
					case <-time.After(pollInterval):
					}
					break
				}
			}

			cp = rev.Sequence
			s.setCheckpoint("push", cp)
			docs := uint64(0)
			if accepted {
				docs = 1
			}
			s.progress(1, docs)
		}
	}
}

func (s *remoteSession) publish(rev document.Revision) error {
	data, err := encodeWireRevision(rev)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: revisionSubject(s.params.RemoteDatabase),
		Data:    data,
		Header:  nats.Header{headerOrigin: []string{s.params.Local.Name()}},
	}
	_, err = s.js.PublishMsg(s.ctx, msg)
	return err
}

func (s *remoteSession) pullLoop() {
	defer s.wg.Done()

	cp := s.checkpoint("pull")
	continuous := s.params.Pull == engine.ModeContinuous

	for {
		if s.ctx.Err() != nil {
			return
		}

		cons, err := s.js.OrderedConsumer(s.ctx, streamName(s.params.RemoteDatabase), jetstream.OrderedConsumerConfig{
			DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
			OptStartSeq:   cp + 1,
		})
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fatal(&engine.Error{Domain: engine.DomainEngine, Code: codeStream, Message: fmt.Sprintf("create consumer: %v", err)})
			return
		}

		for {
			if s.ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(pullBatchSize, jetstream.FetchMaxWait(fetchWait))
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Warn("fetch failed, recreating consumer", "error", err)
				s.level(engine.Offline, &engine.Error{Domain: engine.DomainTransport, Code: codeTransfer, Message: err.Error()})
				break
			}

			n := 0
			for msg := range batch.Messages() {
				n++
				seq, applyErr := s.apply(msg)
				if applyErr != nil {
					s.fatal(applyErr)
					return
				}
				if seq > cp {
					cp = seq
					s.setCheckpoint("pull", cp)
				}
			}
			if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn("fetch batch error", "error", err)
			}

			if n == 0 {
				if !continuous {
					return
				}
				s.level(engine.Idle, nil)
			}
		}
	}
}

// apply decodes one stream message and applies it to the local store. It
// returns the message's stream sequence for checkpointing. Messages this
// store published itself are skipped.
func (s *remoteSession) apply(msg jetstream.Msg) (uint64, *engine.Error) {
	var seq uint64
	if meta, err := msg.Metadata(); err == nil {
		seq = meta.Sequence.Stream
	}

	if msg.Headers().Get(headerOrigin) == s.params.Local.Name() {
		return seq, nil
	}

	rev, err := decodeWireRevision(msg.Data())
	if err != nil {
		// A malformed message is skipped, not fatal: the rest of the
		// stream is still usable.
		s.logger.Warn("skipping malformed revision", "seq", seq, "error", err)
		return seq, nil
	}

	s.level(engine.Busy, nil)

	if s.params.PullFilter != nil && !s.params.PullFilter(rev) {
		s.progress(1, 0)
		return seq, nil
	}

	if err := s.params.Local.Apply(rev); err != nil {
		return seq, &engine.Error{Domain: engine.DomainEngine, Code: codeTransfer, Message: fmt.Sprintf("apply %s: %v", rev.DocID, err)}
	}
	s.progress(1, 1)
	return seq, nil
}

func (s *remoteSession) checkpointKey(direction string) string {
	return fmt.Sprintf("%s.%s", s.params.Local.Name(), direction)
}

func (s *remoteSession) checkpoint(direction string) uint64 {
	entry, err := s.kv.Get(s.ctx, s.checkpointKey(direction))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(string(entry.Value()), 10, 64)
	if err != nil {
		s.logger.Warn("invalid checkpoint value", "key", s.checkpointKey(direction), "value", string(entry.Value()))
		return 0
	}
	return v
}

func (s *remoteSession) setCheckpoint(direction string, v uint64) {
	key := s.checkpointKey(direction)
	if _, err := s.kv.Put(s.ctx, key, []byte(strconv.FormatUint(v, 10))); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("failed to persist checkpoint", "key", key, "error", err)
	}
}

// authFromOptions extracts authenticator credentials from a decoded options
// map.
func authFromOptions(opts map[string]any) (user, pass, token string) {
	switch opts[engine.OptionAuthType] {
	case engine.AuthTypeBasic:
		user, _ = opts[engine.OptionAuthUsername].(string)
		pass, _ = opts[engine.OptionAuthPassword].(string)
	case engine.AuthTypeSession:
		token, _ = opts[engine.OptionAuthToken].(string)
	}
	return user, pass, token
}
