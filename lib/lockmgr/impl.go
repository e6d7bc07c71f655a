package lockmgr

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var Logger = logger.GetLogger("lockmgr")

type fileLockImpl struct {
	fs         afero.Fs
	clock      clock.Clock
	expiration time.Duration
}

// NewFileLockManager creates a lock manager that uses lock files on fs.
// A lock older than expiration is presumed abandoned and may be taken over (0 never expires).
// A nil clock defaults to the wall clock.
func NewFileLockManager(fs afero.Fs, clk clock.Clock, expiration time.Duration) ILockManager {
	if clk == nil {
		clk = clock.New()
	}
	return &fileLockImpl{
		fs:         fs,
		clock:      clk,
		expiration: expiration,
	}
}

func (lm *fileLockImpl) AcquireLock(path string) (bool, error) {
	// Try to create the lock (only one creator can succeed)
	f, err := lm.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		if err := f.Close(); err != nil {
			return false, err
		}
		// the age of the lock is measured with our clock, not the file system's
		if err := lm.touch(path); err != nil {
			_ = lm.fs.Remove(path)
			return false, err
		}
		return true, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("failed to create lock %s: %w", path, err)
	}

	// Lock exists, check if it is abandoned
	if lm.expiration <= 0 {
		return false, nil
	}
	expired, err := lm.expired(path)
	if err != nil || !expired {
		return false, err
	}
	return lm.takeover(path)
}

func (lm *fileLockImpl) ReleaseLock(path string) error {
	err := lm.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock %s: %w", path, err)
	}
	return nil
}

// takeover replaces an expired lock. Takeovers of the same lock are serialized
// by a guard file, so at most one requester replaces it.
func (lm *fileLockImpl) takeover(path string) (bool, error) {
	guard := path + ".takeover"
	f, err := lm.fs.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		// a guard left behind by a crashed requester is removed, the next sweep retries
		if expired, _ := lm.expired(guard); expired {
			Logger.Warningf("removing abandoned takeover guard %s", guard)
			_ = lm.fs.Remove(guard)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create takeover guard %s: %w", guard, err)
	}
	_ = f.Close()
	_ = lm.touch(guard)
	defer func() {
		if err := lm.fs.Remove(guard); err != nil && !errors.Is(err, os.ErrNotExist) {
			Logger.Errorf("failed to remove takeover guard %s: %v", guard, err)
		}
	}()

	// another requester may have replaced the lock before the guard was acquired
	info, err := lm.fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return false, fmt.Errorf("failed to stat lock %s: %w", path, err)
	case lm.clock.Since(info.ModTime()) <= lm.expiration:
		return false, nil
	default:
		Logger.Warningf("taking over expired lock %s (age %s)", path, lm.clock.Since(info.ModTime()).Round(time.Second))
		if err := lm.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("failed to remove expired lock %s: %w", path, err)
		}
	}

	f, err = lm.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		// a regular acquire won the free lock
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	if err := lm.touch(path); err != nil {
		_ = lm.fs.Remove(path)
		return false, err
	}
	return true, nil
}

// expired reports whether the file at path is older than the expiration.
// A missing file is not expired.
func (lm *fileLockImpl) expired(path string) (bool, error) {
	info, err := lm.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		// released in the meantime, the next sweep will pick it up
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat lock %s: %w", path, err)
	}
	return lm.clock.Since(info.ModTime()) > lm.expiration, nil
}

// touch sets the modification time of the lock to now
func (lm *fileLockImpl) touch(path string) error {
	now := lm.clock.Now()
	if err := lm.fs.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", path, err)
	}
	return nil
}
