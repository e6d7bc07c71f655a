package lockmgr

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
)

func TestAcquireRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	lm := NewFileLockManager(fs, clock.NewMock(), time.Hour)

	ok, err := lm.AcquireLock("/spool/a.lock")
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = lm.AcquireLock("/spool/a.lock")
	if err != nil || ok {
		t.Fatalf("second acquire should fail while the lock is held: ok=%v err=%v", ok, err)
	}

	if err := lm.ReleaseLock("/spool/a.lock"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if exists, _ := afero.Exists(fs, "/spool/a.lock"); exists {
		t.Error("lock file should be removed after release")
	}

	ok, err = lm.AcquireLock("/spool/a.lock")
	if err != nil || !ok {
		t.Fatalf("acquire after release should succeed: ok=%v err=%v", ok, err)
	}
}

func TestReleaseMissingLock(t *testing.T) {
	lm := NewFileLockManager(afero.NewMemMapFs(), nil, time.Hour)
	if err := lm.ReleaseLock("/does/not/exist.lock"); err != nil {
		t.Errorf("releasing a missing lock should not fail: %v", err)
	}
}

func TestExpiredLockTakeover(t *testing.T) {
	fs := afero.NewMemMapFs()
	mock := clock.NewMock()
	lm := NewFileLockManager(fs, mock, time.Hour)

	if ok, _ := lm.AcquireLock("/a.lock"); !ok {
		t.Fatal("acquire should succeed")
	}

	mock.Add(59 * time.Minute)
	if ok, _ := lm.AcquireLock("/a.lock"); ok {
		t.Fatal("lock younger than the expiration must not be taken over")
	}

	mock.Add(2 * time.Minute)
	ok, err := lm.AcquireLock("/a.lock")
	if err != nil || !ok {
		t.Fatalf("expired lock should be taken over: ok=%v err=%v", ok, err)
	}

	// the takeover refreshes the lock
	if ok, _ := lm.AcquireLock("/a.lock"); ok {
		t.Error("refreshed lock must not be taken over again")
	}

	info, err := fs.Stat("/a.lock")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mock.Now()) {
		t.Errorf("lock mtime = %v, want %v", info.ModTime(), mock.Now())
	}
}

func TestNoExpiration(t *testing.T) {
	mock := clock.NewMock()
	lm := NewFileLockManager(afero.NewMemMapFs(), mock, 0)

	if ok, _ := lm.AcquireLock("/a.lock"); !ok {
		t.Fatal("acquire should succeed")
	}
	mock.Add(24 * 365 * time.Hour)
	if ok, _ := lm.AcquireLock("/a.lock"); ok {
		t.Error("locks must never expire with expiration 0")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()
	lm := NewFileLockManager(afero.NewOsFs(), nil, time.Hour)
	path := filepath.Join(dir, "a.lock")

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := lm.AcquireLock(path)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := acquired.Load(); n != 1 {
		t.Errorf("exactly one goroutine should hold the lock, got %d", n)
	}
}

func TestConcurrentTakeover(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	lm := NewFileLockManager(fs, nil, time.Hour)
	path := filepath.Join(dir, "a.lock")

	if ok, err := lm.AcquireLock(path); err != nil || !ok {
		t.Fatalf("acquire should succeed: ok=%v err=%v", ok, err)
	}
	// the owner crashed two hours ago
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := lm.AcquireLock(path)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := acquired.Load(); n != 1 {
		t.Errorf("exactly one goroutine should take over the lock, got %d", n)
	}
	if exists, _ := afero.Exists(fs, path+".takeover"); exists {
		t.Error("takeover guard should be removed")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Errorf("taken over lock should be refreshed, mtime %v", info.ModTime())
	}
}

func TestAbandonedTakeoverGuard(t *testing.T) {
	fs := afero.NewMemMapFs()
	mock := clock.NewMock()
	lm := NewFileLockManager(fs, mock, time.Hour)

	if ok, _ := lm.AcquireLock("/a.lock"); !ok {
		t.Fatal("acquire should succeed")
	}
	// a requester crashed while holding the guard
	if err := afero.WriteFile(fs, "/a.lock.takeover", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	now := mock.Now()
	_ = fs.Chtimes("/a.lock.takeover", now, now)

	mock.Add(2 * time.Hour)
	if ok, _ := lm.AcquireLock("/a.lock"); ok {
		t.Fatal("lock must not be taken over while the guard exists")
	}
	if exists, _ := afero.Exists(fs, "/a.lock.takeover"); exists {
		t.Fatal("abandoned guard should be removed")
	}

	ok, err := lm.AcquireLock("/a.lock")
	if err != nil || !ok {
		t.Fatalf("expired lock should be taken over once the guard is gone: ok=%v err=%v", ok, err)
	}
}
