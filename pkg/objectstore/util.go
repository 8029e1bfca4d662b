package objectstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// readVerified buffers body, checks the optional checksum and returns the
// data with its etag.
func readVerified(body io.Reader, opts *PutOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	hash := sha256.New()
	if _, err := io.Copy(&buf, io.TeeReader(body, hash)); err != nil {
		return nil, "", err
	}
	sum := hash.Sum(nil)

	if opts != nil && opts.Checksum != "" {
		checksum := base64.StdEncoding.EncodeToString(sum)
		if checksum != opts.Checksum {
			return nil, "", fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrChecksumFailed, opts.Checksum, checksum)
		}
	}
	return buf.Bytes(), fmt.Sprintf("%x", sum[:16]), nil
}

// Checksum returns the base64 SHA-256 accepted by PutOptions.Checksum.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func listParams(opts *ListOptions) (prefix, marker string, maxKeys int) {
	maxKeys = 1000
	if opts != nil {
		prefix = opts.Prefix
		marker = opts.Marker
		if opts.MaxKeys > 0 {
			maxKeys = opts.MaxKeys
		}
	}
	return prefix, marker, maxKeys
}

// paginate turns sorted keys into a ListResult honoring MaxKeys.
func paginate(keys []string, opts *ListOptions, info func(string) (*ObjectInfo, bool)) *ListResult {
	_, _, maxKeys := listParams(opts)

	result := &ListResult{}
	for i, key := range keys {
		if i >= maxKeys {
			result.IsTruncated = true
			result.NextMarker = keys[i-1]
			break
		}
		if oi, ok := info(key); ok {
			result.Objects = append(result.Objects, *oi)
		}
	}
	return result
}
