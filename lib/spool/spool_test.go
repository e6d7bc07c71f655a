package spool

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/lib/lockmgr"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
)

func newTestSpool() (*Spool, afero.Fs) {
	fs := afero.NewMemMapFs()
	return New(fs, "/spool", lockmgr.NewFileLockManager(fs, clock.NewMock(), time.Hour)), fs
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, fs := newTestSpool()
	msg := common.NewMessage(0xabcdef, 5, []byte("abc"))

	if err := s.Write(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	want := "/spool/abcdef/5/" + msg.Hash.String() + ".bin"
	if got := s.PathOf(msg); got != want {
		t.Errorf("PathOf = %s, want %s", got, want)
	}
	if exists, _ := afero.Exists(fs, want+".tmp"); exists {
		t.Error("temporary file should be renamed")
	}

	paths, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != want {
		t.Fatalf("List = %v, want [%s]", paths, want)
	}

	read, err := s.Read(paths[0])
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if read.ClientID != msg.ClientID || read.Type != msg.Type || read.Hash != msg.Hash {
		t.Errorf("read %s, want %s", read, msg)
	}
	if string(read.Payload) != "abc" {
		t.Errorf("payload = %q, want %q", read.Payload, "abc")
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	s, fs := newTestSpool()
	msg := common.NewMessage(1, 2, []byte("x"))
	if err := s.Write(msg); err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(fs, "/spool/1/2/partial.bin.tmp", []byte("y"), 0o644)
	_ = afero.WriteFile(fs, "/spool/stray.bin", []byte("y"), 0o644)
	if ok, _ := s.Lock(s.PathOf(msg)); !ok {
		t.Fatal("lock should be acquired")
	}

	paths, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Errorf("expected only the data file, got %v", paths)
	}
}

func TestReadMalformedPath(t *testing.T) {
	s, fs := newTestSpool()

	tests := []string{
		"/spool/zz/5/" + common.NewMessage(1, 5, nil).Hash.String() + ".bin", // client id not hex
		"/spool/1/300/" + common.NewMessage(1, 5, nil).Hash.String() + ".bin", // type out of range
		"/spool/1/5/nothex.bin",
		"/spool/1/5/abc.txt",
	}
	for _, path := range tests {
		_ = fs.MkdirAll(filepath.Dir(path), 0o755)
		_ = afero.WriteFile(fs, path, []byte("x"), 0o644)
		if _, err := s.Read(path); !errors.Is(err, ErrMalformedPath) {
			t.Errorf("Read(%s) error = %v, want ErrMalformedPath", path, err)
		}
	}
}

func TestLockUnlock(t *testing.T) {
	s, fs := newTestSpool()
	msg := common.NewMessage(1, 5, []byte("abc"))
	if err := s.Write(msg); err != nil {
		t.Fatal(err)
	}
	path := s.PathOf(msg)
	lock := filepath.Join("/spool/1/5", msg.Hash.String()+".lock")

	if ok, err := s.Lock(path); err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	if exists, _ := afero.Exists(fs, lock); !exists {
		t.Errorf("lock file %s should exist", lock)
	}
	if ok, _ := s.Lock(path); ok {
		t.Error("second lock should fail")
	}
	if err := s.Unlock(path); err != nil {
		t.Fatal(err)
	}
	if exists, _ := afero.Exists(fs, lock); exists {
		t.Error("lock file should be removed")
	}
}

func TestDeleteAndPrune(t *testing.T) {
	s, fs := newTestSpool()
	a := common.NewMessage(1, 5, []byte("a"))
	b := common.NewMessage(1, 6, []byte("b"))
	for _, msg := range []*common.Message{a, b} {
		if err := s.Write(msg); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete(s.PathOf(a)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(s.PathOf(a)); err != nil {
		t.Errorf("deleting a missing file should not fail: %v", err)
	}
	if err := s.Prune(); err != nil {
		t.Fatal(err)
	}

	if exists, _ := afero.DirExists(fs, "/spool/1/5"); exists {
		t.Error("empty type directory should be pruned")
	}
	if exists, _ := afero.DirExists(fs, "/spool/1/6"); !exists {
		t.Error("non-empty type directory must be kept")
	}

	if err := s.Delete(s.PathOf(b)); err != nil {
		t.Fatal(err)
	}
	if err := s.Prune(); err != nil {
		t.Fatal(err)
	}
	if exists, _ := afero.DirExists(fs, "/spool/1"); exists {
		t.Error("empty client directory should be pruned")
	}
	if exists, _ := afero.DirExists(fs, "/spool"); !exists {
		t.Error("spool root must be kept")
	}
}

func TestPruneMissingRoot(t *testing.T) {
	s, _ := newTestSpool()
	if err := s.Prune(); err != nil {
		t.Errorf("pruning a missing root should not fail: %v", err)
	}
}
