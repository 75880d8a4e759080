// Package integrity checks downloaded tarballs against the SHA-256 checksum
// declared in package metadata.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/git-pkgs/semverx/internal/core"
)

// ErrChecksumMismatch is wrapped by every ChecksumMismatchError.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumMismatchError reports a tarball whose digest differs from the
// declared checksum.
type ChecksumMismatchError struct {
	PackageID string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch: expected %s, got %s", e.PackageID, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// Verify checks data against pkg.Checksum.
func Verify(pkg *core.Package, data []byte) error {
	sum := sha256.Sum256(data)
	return compare(pkg, sum[:])
}

// VerifyReader hashes everything read from r and checks it against
// pkg.Checksum.
func VerifyReader(pkg *core.Package, r io.Reader) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("%s: reading tarball: %w", pkg.ID, err)
	}
	return compare(pkg, h.Sum(nil))
}

// compare is constant-time over the digest. A declared checksum that is not
// 64 hex digits is a mismatch.
func compare(pkg *core.Package, actual []byte) error {
	declared := strings.ToLower(strings.TrimSpace(pkg.Checksum))
	expected, err := hex.DecodeString(declared)
	if err != nil || len(expected) != sha256.Size {
		return &ChecksumMismatchError{PackageID: pkg.ID, Expected: pkg.Checksum, Actual: hex.EncodeToString(actual)}
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return &ChecksumMismatchError{PackageID: pkg.ID, Expected: declared, Actual: hex.EncodeToString(actual)}
	}
	return nil
}
