package client

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport/base"
	"golang.org/x/sync/errgroup"
)

// SyncMemory sends up to PoolSize buffered messages concurrently and waits for all of them.
// Delivered and permanently rejected messages are removed from the buffer, messages that
// failed transiently stay for the next cycle. Returns the number of removed messages.
func (s *Sender) SyncMemory(ctx context.Context) int {
	start := s.clock.Now()
	defer func() { s.memoryTimer.Update(s.clock.Since(start)) }()

	messages := s.buffer.Take(s.config.PoolSize)
	if len(messages) == 0 {
		return 0
	}

	var removed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.config.PoolSize)

	for _, msg := range messages {
		g.Go(func() error {
			if s.handleOutcome(msg, s.write(ctx, msg)) {
				s.buffer.Remove(msg)
				removed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	Logger.Debugf("memory sync: %d/%d messages done, %d buffered", removed.Load(), len(messages), s.buffer.Len())
	return int(removed.Load())
}

// SyncDisk sends every spooled message whose lock can be acquired.
// A delivered (or permanently rejected) message file is deleted, the lock is always released.
// Empty spool directories are pruned afterwards. Returns the number of deleted files.
func (s *Sender) SyncDisk(ctx context.Context) int {
	start := s.clock.Now()
	defer func() { s.diskTimer.Update(s.clock.Since(start)) }()

	paths, err := s.spool.List()
	if err != nil {
		Logger.Errorf("failed to list spool %s: %v", s.spool.Root(), err)
		return 0
	}

	var removed atomic.Int32
	if len(paths) > 0 {
		var g errgroup.Group
		g.SetLimit(s.config.PoolSize)

		for _, path := range paths {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if s.syncFile(ctx, path) {
					removed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		Logger.Debugf("disk sync: %d/%d spooled messages done", removed.Load(), len(paths))
	}

	if err := s.spool.Prune(); err != nil {
		Logger.Warningf("failed to prune spool %s: %v", s.spool.Root(), err)
	}
	return int(removed.Load())
}

// syncFile delivers a single spooled message and reports whether its file was deleted
func (s *Sender) syncFile(ctx context.Context, path string) bool {
	ok, err := s.spool.Lock(path)
	if err != nil {
		Logger.Errorf("failed to lock %s: %v", path, err)
		return false
	}
	if !ok {
		Logger.Debugf("skipping %s, locked by another sweep", path)
		return false
	}
	defer func() {
		if err := s.spool.Unlock(path); err != nil {
			Logger.Errorf("failed to unlock %s: %v", path, err)
		}
	}()

	msg, err := s.spool.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		// delivered and deleted by another sweep after listing
		Logger.Debugf("skipping %s, no longer spooled", path)
		return false
	}
	if err != nil {
		Logger.Errorf("failed to read spooled message: %v", err)
		return false
	}

	if !s.handleOutcome(msg, s.write(ctx, msg)) {
		return false
	}

	if err := s.spool.Delete(path); err != nil {
		Logger.Errorf("failed to delete delivered message %s: %v", path, err)
		return false
	}
	return true
}

// handleOutcome applies the result of a send and reports whether the message is done
func (s *Sender) handleOutcome(msg *common.Message, status common.DeliveryStatus) bool {
	switch status {
	case common.DeliveryOK, common.DeliveryAlreadyWritten:
		return true
	case common.DeliveryErrorNoRetry:
		s.noRetry.OnNoRetry(msg.Type, msg.ClientID, msg.Payload)
		return true
	default:
		return false
	}
}

// write sends one message and maps the response to a delivery status.
// Transport errors are retried immediately up to RetryCount times. Protocol
// errors and a closed pool end the attempt. Either way the message stays
// eligible for the next cycle.
func (s *Sender) write(ctx context.Context, msg *common.Message) common.DeliveryStatus {
	attempts := s.config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		status, err := s.transport.Send(ctx, msg)
		if err == nil {
			s.networkAvailable.Store(true)
			result := s.config.Statuses.Classify(status)
			s.record(msg, result)

			if result == common.DeliveryError || result == common.DeliveryErrorNoRetry {
				Logger.Warningf("server answered %s for %s (%s)", s.config.Statuses.StatusName(status), msg, result)
			}
			return result
		}

		lastErr = err
		s.networkAvailable.Store(false)
		Logger.Debugf("send attempt %d/%d of %s failed: %v", i+1, attempts, msg, err)

		if errors.Is(err, base.ErrPoolClosed) || errors.Is(err, base.ErrVersionMismatch) || ctx.Err() != nil {
			break
		}
	}

	s.record(msg, common.DeliveryError)
	if s.errorLimiter.Allow() {
		Logger.Errorf("failed to send %s: %v", msg, lastErr)
	}
	return common.DeliveryError
}

// record stores the outcome as last status of the type
func (s *Sender) record(msg *common.Message, status common.DeliveryStatus) {
	s.lastStatus.Store(msg.Type, status)
	deliveryCounter(msg.Type, status).Inc()
}
