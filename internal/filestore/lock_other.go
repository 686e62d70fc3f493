//go:build !unix

package filestore

// lockFile is a no-op here: only the in-process mutex serializes writers, so a
// single process per data file is required on these platforms.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
