package schema

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is an opaque 12-byte document identifier: a 4-byte creation
// timestamp, 5 bytes of per-process randomness and a 3-byte counter.
type ObjectID [12]byte

// NilObjectID is the zero identifier.
var NilObjectID ObjectID

// ErrInvalidHex is returned when a string is not a 24 character hex identifier.
var ErrInvalidHex = errors.New("docshape: invalid ObjectID hex")

var (
	processUnique = processRandom()
	oidCounter    = counterSeed()
)

// NewObjectID generates a new identifier for the current time.
func NewObjectID() ObjectID {
	return NewObjectIDFromTime(time.Now())
}

// NewObjectIDFromTime generates an identifier carrying the given timestamp.
func NewObjectIDFromTime(t time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	copy(id[4:9], processUnique[:])
	c := atomic.AddUint32(&oidCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// ObjectIDFromHex parses a 24 character hex string.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, ErrInvalidHex
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, ErrInvalidHex
	}
	return id, nil
}

// IsValidObjectID reports whether s is a valid hex identifier.
func IsValidObjectID(s string) bool {
	_, err := ObjectIDFromHex(s)
	return err == nil
}

// Hex returns the 24 character hex form.
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return id.Hex() }

// IsZero reports whether id is the nil identifier.
func (id ObjectID) IsZero() bool { return id == NilObjectID }

// Timestamp returns the creation time embedded in id.
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ObjectID) UnmarshalText(b []byte) error {
	parsed, err := ObjectIDFromHex(string(b))
	if err != nil {
		return fmt.Errorf("%w: %q", err, string(b))
	}
	*id = parsed
	return nil
}

func processRandom() [5]byte {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("docshape: cannot initialize ObjectID generator: %w", err))
	}
	return b
}

func counterSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("docshape: cannot initialize ObjectID counter: %w", err))
	}
	return binary.BigEndian.Uint32(b[:]) & 0x00ffffff
}
