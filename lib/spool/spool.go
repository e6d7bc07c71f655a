package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMsg/lib/lockmgr"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var Logger = logger.GetLogger("spool")

const (
	dataExt = ".bin"
	tmpExt  = ".bin.tmp"
	lockExt = ".lock"
)

// ErrMalformedPath is returned when a spool file path does not follow the
// <clientIdHex>/<typeDecimal>/<hashHex>.bin layout
var ErrMalformedPath = errors.New("malformed spool path")

// Spool stores undelivered messages below a root directory, one file per message:
//
//	<root>/<clientIdHex>/<typeDecimal>/<hashHex>.bin
//
// Each data file may have a sibling <hashHex>.lock while a sweep processes it.
type Spool struct {
	fs    afero.Fs
	root  string
	locks lockmgr.ILockManager
}

// New creates a spool rooted at root. The directory is created on the first write.
func New(fs afero.Fs, root string, locks lockmgr.ILockManager) *Spool {
	return &Spool{
		fs:    fs,
		root:  filepath.Clean(root),
		locks: locks,
	}
}

// Root returns the spool root directory
func (s *Spool) Root() string {
	return s.root
}

// PathOf returns the data file path of a message
func (s *Spool) PathOf(msg *common.Message) string {
	return filepath.Join(
		s.root,
		strconv.FormatUint(msg.ClientID, 16),
		strconv.Itoa(int(msg.Type)),
		msg.Hash.String()+dataExt,
	)
}

// Write persists the message. The payload is written to a temporary file
// first and renamed into place, so a crash never leaves a partial .bin file.
// Writing a message that is already spooled overwrites it with identical content.
func (s *Spool) Write(msg *common.Message) error {
	path := s.PathOf(msg)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	tmp := strings.TrimSuffix(path, dataExt) + tmpExt
	if err := afero.WriteFile(s.fs, tmp, msg.Payload, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}

	Logger.Debugf("spooled %s to %s", msg, path)
	return nil
}

// List returns the paths of all spooled data files in lexical order
func (s *Spool) List() ([]string, error) {
	paths, err := afero.Glob(s.fs, filepath.Join(s.root, "*", "*", "*"+dataExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads the message stored at path. Client id, type and hash are taken
// from the path, the payload from the file content.
func (s *Spool) Read(path string) (*common.Message, error) {
	msg, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	payload, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	msg.Payload = payload
	return msg, nil
}

// Delete removes a data file. A missing file is not an error.
func (s *Spool) Delete(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Lock acquires the lock of a data file
func (s *Spool) Lock(path string) (bool, error) {
	return s.locks.AcquireLock(lockPath(path))
}

// Unlock releases the lock of a data file
func (s *Spool) Unlock(path string) error {
	return s.locks.ReleaseLock(lockPath(path))
}

// Prune removes empty directories below the root (the root itself is kept).
// Directories that are not empty, e.g. because a concurrent write created a
// file in the meantime, are left alone.
func (s *Spool) Prune() error {
	exists, err := afero.DirExists(s.fs, s.root)
	if err != nil || !exists {
		return err
	}
	_, err = s.prune(s.root)
	return err
}

// prune removes empty directories below dir and reports whether dir is empty afterwards
func (s *Spool) prune(dir string) (bool, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return false, err
	}

	empty := true
	for _, entry := range entries {
		if !entry.IsDir() {
			empty = false
			continue
		}
		child := filepath.Join(dir, entry.Name())
		childEmpty, err := s.prune(child)
		if err != nil {
			return false, err
		}
		if !childEmpty {
			empty = false
			continue
		}
		if err := s.fs.Remove(child); err != nil && !errors.Is(err, os.ErrNotExist) {
			// most likely no longer empty
			Logger.Debugf("failed to prune %s: %v", child, err)
			empty = false
		}
	}
	return empty, nil
}

// --------------------------------------------------------------------------
// Path helpers
// --------------------------------------------------------------------------

func lockPath(path string) string {
	return strings.TrimSuffix(path, dataExt) + lockExt
}

// parsePath extracts client id, type and hash from <clientIdHex>/<typeDecimal>/<hashHex>.bin
func parsePath(path string) (*common.Message, error) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, dataExt) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPath, path)
	}
	typeDir := filepath.Dir(path)
	clientDir := filepath.Dir(typeDir)

	hash, err := common.ParseHash(strings.TrimSuffix(name, dataExt))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPath, path, err)
	}
	messageType, err := strconv.ParseUint(filepath.Base(typeDir), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPath, path, err)
	}
	clientID, err := strconv.ParseUint(filepath.Base(clientDir), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPath, path, err)
	}

	return &common.Message{
		ClientID: clientID,
		Type:     uint8(messageType),
		Hash:     hash,
	}, nil
}
