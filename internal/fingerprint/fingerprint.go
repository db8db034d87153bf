// Package fingerprint computes content digests for duplicate detection.
//
// Small files are hashed in full. Large files are identified by their size
// plus hashes of a head, middle and tail sample, so very large uploads can be
// fingerprinted without reading every byte. The sampled digest is a dedup
// optimization, not a security boundary.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// SmallFileThreshold is the size below which the entire content is hashed.
	SmallFileThreshold = 10 * 1024 * 1024

	// sampleSize is the number of bytes read per sample for large files.
	sampleSize = 1024 * 1024
)

// Sum returns a hex-encoded digest of the content behind r, which must
// report totalSize bytes. It uses SmallFileThreshold to decide between the
// full and sampled digest.
func Sum(r io.ReadSeeker, totalSize int64) (string, error) {
	return SumWithThreshold(r, totalSize, SmallFileThreshold)
}

// SumWithThreshold is Sum with an explicit small-file threshold.
func SumWithThreshold(r io.ReadSeeker, totalSize, threshold int64) (string, error) {
	if totalSize < threshold {
		return fullDigest(r)
	}
	return sampledDigest(r, totalSize)
}

func fullDigest(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek content: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sampledDigest hashes {size, hash(head), hash(middle), hash(tail)} where
// each sample is up to sampleSize bytes.
func sampledDigest(r io.ReadSeeker, totalSize int64) (string, error) {
	head, err := sample(r, 0)
	if err != nil {
		return "", err
	}

	middle, err := sample(r, totalSize/2)
	if err != nil {
		return "", err
	}

	tailOffset := totalSize - sampleSize
	if tailOffset < 0 {
		tailOffset = 0
	}
	tail, err := sample(r, tailOffset)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d", totalSize)
	h.Write(head)
	h.Write(middle)
	h.Write(tail)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sample(r io.ReadSeeker, offset int64) ([]byte, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	buf := make([]byte, sampleSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read sample at offset %d: %w", offset, err)
	}

	sum := sha256.Sum256(buf[:n])
	return sum[:], nil
}
