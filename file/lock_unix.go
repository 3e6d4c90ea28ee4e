//go:build unix

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a flock: exclusive for writers, shared for readers.
func lockFile(f *os.File, exclusive, nonBlocking bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if nonBlocking {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
