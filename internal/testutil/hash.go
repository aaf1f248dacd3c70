package testutil

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"

	"dupefind/internal/dupe"
)

// MD5Hex returns the MD5 digest of data as a lowercase hex string.
func MD5Hex(data []byte) string {
	h := md5.Sum(data)
	return hex.EncodeToString(h[:])
}

// SHA1Hex returns the SHA-1 digest of data as a lowercase hex string.
func SHA1Hex(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// DigestsOf returns the digest pair the fingerprinter computes for data.
func DigestsOf(data []byte) dupe.DigestPair {
	return dupe.DigestPair{MD5: MD5Hex(data), SHA1: SHA1Hex(data)}
}
