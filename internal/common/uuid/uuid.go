// Package uuid wraps github.com/google/uuid and hands out time-ordered v7 ids.
package uuid

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

type UUID = uuid.UUID

var Nil = uuid.Nil

// New returns a UUIDv7. It panics if the random source fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// CreatedAt returns the millisecond timestamp embedded in a UUIDv7.
func CreatedAt(u UUID) time.Time {
	ms := binary.BigEndian.Uint64(u[0:8]) >> 16
	return time.UnixMilli(int64(ms))
}
