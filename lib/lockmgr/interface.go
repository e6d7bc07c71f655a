package lockmgr

// ILockManager defines the interface for a lockmgr provider.
type ILockManager interface {
	// AcquireLock acquires the lock at the given path.
	// Returns true if the lock was acquired, false if it is held by someone else
	// and has not expired yet. Of several requesters taking over the same
	// expired lock at most one succeeds.
	AcquireLock(path string) (ok bool, err error)

	// ReleaseLock releases the lock at the given path.
	// Releasing a lock that does not exist is not an error.
	ReleaseLock(path string) error
}
