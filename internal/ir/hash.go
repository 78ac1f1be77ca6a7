package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRecord separates record fingerprints from any other hash use.
const DomainRecord = "hrsync/record/v1"

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a stable content hash of a record's canonical form.
// Two records that differ only in key order share a fingerprint.
func Fingerprint(r Record) (string, error) {
	canonical, err := MarshalRecord(r)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// ShortFingerprint is Fingerprint truncated to 12 hex characters for logs.
// Returns "invalid" when the record cannot be canonicalized.
func ShortFingerprint(r Record) string {
	fp, err := Fingerprint(r)
	if err != nil {
		return "invalid"
	}
	return fp[:12]
}
