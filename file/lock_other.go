//go:build !unix

package file

import "os"

func lockFile(f *os.File, exclusive, nonBlocking bool) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
