// Package lockmgr implements cooperative file locks used to arbitrate
// between concurrent sweeps over the same spool directory, possibly from
// different processes.
//
// Core Functionality:
//   - Lock acquisition by exclusive file creation
//   - Takeover of locks older than the configured expiration
//   - Idempotent release
//
// Implementation Approach:
//
//	- Lock Acquisition: the lock file is created with O_CREATE|O_EXCL, which
//	  guarantees that only one requester can create it. The modification
//	  time of the new file is set from the injected clock.
//
//	- Expiration: if the file already exists its modification time is
//	  compared against the clock. A lock older than the expiration is
//	  presumed abandoned by a crashed sweep. To take it over a requester
//	  creates the guard file <lock>.takeover with O_EXCL, checks the age of
//	  the lock again, removes it and creates a new one with O_EXCL. Only one
//	  requester holds the guard, so concurrent takeovers have one winner.
//
//	- Release: the lock file is removed. A missing file counts as released.
//
// Limitations:
//
//	Expiration is a heuristic. Under clock skew between processes sharing a
//	spool directory (or a sweep running longer than the expiration) two
//	sweeps may hold the same lock. The same holds if the owner of an expired
//	lock releases it and a new owner acquires it between the age check and
//	the removal of a takeover. Both cases can only cause a duplicate send,
//	which the server dedup absorbs.
//
// Usage Example:
//
//	locks := lockmgr.NewFileLockManager(afero.NewOsFs(), nil, time.Hour)
//
//	ok, err := locks.AcquireLock("spool/00ff/5/abc.lock")
//	if err != nil {
//	    // Handle error
//	}
//
//	if ok {
//	    defer locks.ReleaseLock("spool/00ff/5/abc.lock")
//	    // process the file
//	}
package lockmgr
