//go:build !unix

package config

// На не-unix системах межпроцессной блокировки нет, остаётся мьютекс Store.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
