package winkey

import (
	"encoding/binary"
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Layout of an encoded key: [keyLen uint16][domainKey][windowStart uint64][sequence uint32],
// all fixed-width fields big-endian.
const (
	keyLenBytes = 2                   // Width of the domain key length prefix
	tsBytes     = 8                   // Width of the window start timestamp
	seqBytes    = 4                   // Width of the sequence number
	suffixBytes = tsBytes + seqBytes  // Fixed-width tail after the domain key
	headerBytes = keyLenBytes         // Bytes preceding the domain key

	// MaxDomainKeyLen is the longest domain key the length prefix can represent.
	MaxDomainKeyLen = math.MaxUint16

	// MaxSequence is the largest sequence number. It is used by UpperBound to
	// make range scans inclusive of the last record in a window.
	MaxSequence = math.MaxUint32
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// EncodingError reports a domain key or encoded key that cannot be
// represented in the binary key layout.
type EncodingError struct {
	Msg string // The error message
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("winkey: %s", e.Msg)
}

// newEncodingError creates a new EncodingError with a formatted message.
func newEncodingError(format string, args ...interface{}) *EncodingError {
	return &EncodingError{Msg: fmt.Sprintf(format, args...)}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode packs a (domainKey, windowStart, sequence) tuple into a single
// byte string. The encoding is deterministic and length-delimited: the
// domain key is preceded by its own length, so an encoded key for "a" can
// never be mistaken for a prefix of an encoded key for "aa". For a fixed
// domain key, byte-lexicographic order of the encoded keys equals
// (windowStart, sequence) order.
//
// Encode fails with an *EncodingError if the domain key is longer than
// MaxDomainKeyLen bytes.
func Encode(domainKey []byte, windowStart int64, sequence uint32) ([]byte, error) {
	if len(domainKey) > MaxDomainKeyLen {
		return nil, newEncodingError("domain key length %d exceeds maximum %d", len(domainKey), MaxDomainKeyLen)
	}
	if windowStart < 0 {
		return nil, newEncodingError("window start %d must not be negative", windowStart)
	}

	buf := make([]byte, headerBytes+len(domainKey)+suffixBytes)
	pos := 0

	// Write domain key length
	binary.BigEndian.PutUint16(buf[pos:pos+keyLenBytes], uint16(len(domainKey)))
	pos += keyLenBytes

	// Write domain key bytes
	copy(buf[pos:pos+len(domainKey)], domainKey)
	pos += len(domainKey)

	// Write window start
	binary.BigEndian.PutUint64(buf[pos:pos+tsBytes], uint64(windowStart))
	pos += tsBytes

	// Write sequence number
	binary.BigEndian.PutUint32(buf[pos:pos+seqBytes], sequence)

	return buf, nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// validate checks the structural integrity of an encoded key and returns
// the length of the embedded domain key.
func validate(binKey []byte) (int, error) {
	if len(binKey) < headerBytes+suffixBytes {
		return 0, newEncodingError("encoded key too short: %d bytes", len(binKey))
	}

	keyLen := int(binary.BigEndian.Uint16(binKey[:keyLenBytes]))
	if len(binKey) != headerBytes+keyLen+suffixBytes {
		return 0, newEncodingError("encoded key length %d does not match embedded domain key length %d", len(binKey), keyLen)
	}

	return keyLen, nil
}

// DomainKey extracts the domain key from an encoded key.
// The returned slice is a copy and safe to retain.
func DomainKey(binKey []byte) ([]byte, error) {
	keyLen, err := validate(binKey)
	if err != nil {
		return nil, err
	}

	key := make([]byte, keyLen)
	copy(key, binKey[headerBytes:headerBytes+keyLen])

	return key, nil
}

// WindowStart extracts the window start timestamp from an encoded key.
func WindowStart(binKey []byte) (int64, error) {
	keyLen, err := validate(binKey)
	if err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(binKey[headerBytes+keyLen:])), nil
}

// Sequence extracts the sequence number from an encoded key.
func Sequence(binKey []byte) (uint32, error) {
	keyLen, err := validate(binKey)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(binKey[headerBytes+keyLen+tsBytes:]), nil
}

// --------------------------------------------------------------------------
// Range Bounds
// --------------------------------------------------------------------------

// LowerBound returns the smallest encoded key for the given domain key at
// or after timeFrom. Together with UpperBound it bounds a scan to exactly
// one domain key: because the encoding is length-delimited, no other
// domain key can produce a key inside the bounds.
func LowerBound(domainKey []byte, timeFrom int64) ([]byte, error) {
	if timeFrom < 0 {
		timeFrom = 0
	}
	return Encode(domainKey, timeFrom, 0)
}

// UpperBound returns the largest encoded key for the given domain key at
// or before timeTo. The bound is inclusive.
func UpperBound(domainKey []byte, timeTo int64) ([]byte, error) {
	if timeTo < 0 {
		timeTo = 0
	}
	return Encode(domainKey, timeTo, MaxSequence)
}

// --------------------------------------------------------------------------
// Segment Mapping
// --------------------------------------------------------------------------

// SegmentID maps a window start timestamp to the identifier of the time
// segment it belongs to, given the store-wide segment interval.
func SegmentID(windowStart, segmentInterval int64) int64 {
	return windowStart / segmentInterval
}
