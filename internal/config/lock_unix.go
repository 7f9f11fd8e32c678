//go:build unix

package config

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile берёт эксклюзивный flock, чтобы второй процесс (например,
// roombot migrate) не писал документ одновременно с ботом.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
