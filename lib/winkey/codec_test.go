package winkey

import (
	"bytes"
	"math"
	"testing"
)

// TestEncodeDecodeRoundTrip tests that all tuple components survive the
// encoding
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		key []byte
		ts  int64
		seq uint32
	}{
		{[]byte("a"), 0, 0},
		{[]byte("some-longer-key"), 12345, 7},
		{[]byte{}, 1, 0},
		{[]byte{0x00, 0xff, 0x00}, math.MaxInt64, MaxSequence},
	}

	for _, c := range cases {
		binKey, err := Encode(c.key, c.ts, c.seq)
		if err != nil {
			t.Fatalf("Encode(%q, %d, %d) failed: %v", c.key, c.ts, c.seq, err)
		}

		key, err := DomainKey(binKey)
		if err != nil {
			t.Fatalf("DomainKey failed: %v", err)
		}
		if !bytes.Equal(key, c.key) {
			t.Errorf("Expected domain key %q, got %q", c.key, key)
		}

		ts, err := WindowStart(binKey)
		if err != nil {
			t.Fatalf("WindowStart failed: %v", err)
		}
		if ts != c.ts {
			t.Errorf("Expected window start %d, got %d", c.ts, ts)
		}

		seq, err := Sequence(binKey)
		if err != nil {
			t.Fatalf("Sequence failed: %v", err)
		}
		if seq != c.seq {
			t.Errorf("Expected sequence %d, got %d", c.seq, seq)
		}
	}
}

// TestEncodeDoesNotAliasInput ensures the encoded key does not alias the input
func TestEncodeDoesNotAliasInput(t *testing.T) {
	key := []byte("mutable")

	binKey, err := Encode(key, 100, 0)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	key[0] = 'X'

	decoded, err := DomainKey(binKey)
	if err != nil {
		t.Fatalf("DomainKey failed: %v", err)
	}
	if !bytes.Equal(decoded, []byte("mutable")) {
		t.Errorf("Encoded key aliases the input slice")
	}
}

// TestOrderingWithinDomainKey tests that for a fixed domain key the byte
// order of encoded keys follows (windowStart, sequence) order
func TestOrderingWithinDomainKey(t *testing.T) {
	key := []byte("key")

	k1, _ := Encode(key, 100, 0)
	k2, _ := Encode(key, 100, 1)
	k3, _ := Encode(key, 101, 0)
	k4, _ := Encode(key, math.MaxInt64, 0)

	ordered := [][]byte{k1, k2, k3, k4}
	for i := 0; i < len(ordered)-1; i++ {
		if bytes.Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("Expected encoded key %d to sort before key %d", i, i+1)
		}
	}
}

// TestPrefixSafety tests that range bounds for a key never cover records
// of a different key, even when one key is a byte prefix of the other
func TestPrefixSafety(t *testing.T) {
	shortKey := []byte("a")
	longKey := []byte("aa")

	lower, err := LowerBound(shortKey, 0)
	if err != nil {
		t.Fatalf("LowerBound failed: %v", err)
	}
	upper, err := UpperBound(shortKey, math.MaxInt64)
	if err != nil {
		t.Fatalf("UpperBound failed: %v", err)
	}

	// No encoded key of "aa" may fall inside the bounds for "a"
	for _, ts := range []int64{0, 1, 1000, math.MaxInt64} {
		binKey, err := Encode(longKey, ts, 0)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		if bytes.Compare(binKey, lower) >= 0 && bytes.Compare(binKey, upper) <= 0 {
			t.Errorf("Encoded key for %q at ts=%d falls inside the bounds for %q", longKey, ts, shortKey)
		}
	}

	// While every key of "a" does
	for _, ts := range []int64{0, 1000, math.MaxInt64} {
		binKey, _ := Encode(shortKey, ts, 0)
		if bytes.Compare(binKey, lower) < 0 || bytes.Compare(binKey, upper) > 0 {
			t.Errorf("Encoded key for %q at ts=%d falls outside its own bounds", shortKey, ts)
		}
	}
}

// TestBounds tests that the bounds are inclusive on both ends and
// restricted to the requested time range
func TestBounds(t *testing.T) {
	key := []byte("key")

	lower, _ := LowerBound(key, 100)
	upper, _ := UpperBound(key, 200)

	atFrom, _ := Encode(key, 100, 0)
	atTo, _ := Encode(key, 200, MaxSequence)
	before, _ := Encode(key, 99, MaxSequence)
	after, _ := Encode(key, 201, 0)

	if bytes.Compare(atFrom, lower) < 0 {
		t.Errorf("Key at timeFrom must not sort below the lower bound")
	}
	if bytes.Compare(atTo, upper) > 0 {
		t.Errorf("Key at timeTo must not sort above the upper bound")
	}
	if bytes.Compare(before, lower) >= 0 {
		t.Errorf("Key before timeFrom must sort below the lower bound")
	}
	if bytes.Compare(after, upper) <= 0 {
		t.Errorf("Key after timeTo must sort above the upper bound")
	}

	// Negative lower times are clamped to zero
	clamped, err := LowerBound(key, -5)
	if err != nil {
		t.Fatalf("LowerBound(-5) failed: %v", err)
	}
	atZero, _ := Encode(key, 0, 0)
	if !bytes.Equal(clamped, atZero) {
		t.Errorf("Expected negative timeFrom to clamp to 0")
	}
}

// TestEncodingErrors tests failure modes of Encode and the decoders
func TestEncodingErrors(t *testing.T) {
	tooLong := make([]byte, MaxDomainKeyLen+1)
	if _, err := Encode(tooLong, 0, 0); err == nil {
		t.Errorf("Expected Encode to fail for a domain key of %d bytes", len(tooLong))
	} else if _, ok := err.(*EncodingError); !ok {
		t.Errorf("Expected an *EncodingError, got %T", err)
	}

	if _, err := Encode([]byte("key"), -1, 0); err == nil {
		t.Errorf("Expected Encode to fail for a negative window start")
	}

	atLimit := make([]byte, MaxDomainKeyLen)
	if _, err := Encode(atLimit, 0, 0); err != nil {
		t.Errorf("Expected Encode to succeed for a domain key of exactly %d bytes: %v", MaxDomainKeyLen, err)
	}

	if _, err := WindowStart([]byte{0x01}); err == nil {
		t.Errorf("Expected WindowStart to fail for a truncated key")
	}

	// Length field inconsistent with the actual length
	binKey, _ := Encode([]byte("key"), 0, 0)
	if _, err := DomainKey(binKey[:len(binKey)-1]); err == nil {
		t.Errorf("Expected DomainKey to fail for a corrupted key")
	}
}

// TestSegmentID tests the window-start to segment mapping
func TestSegmentID(t *testing.T) {
	cases := []struct {
		ts, interval, expected int64
	}{
		{0, 1000, 0},
		{999, 1000, 0},
		{1000, 1000, 1},
		{59999, 60000, 0},
		{60000, 60000, 1},
		{180000, 60000, 3},
	}

	for _, c := range cases {
		if got := SegmentID(c.ts, c.interval); got != c.expected {
			t.Errorf("SegmentID(%d, %d) = %d, expected %d", c.ts, c.interval, got, c.expected)
		}
	}
}
