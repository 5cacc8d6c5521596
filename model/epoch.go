package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// EpochID identifies one connection epoch: the span between a successful
// initConnection and the matching teardown.
type EpochID [16]byte

func GenerateEpochID() (EpochID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return EpochID{}, err
	}

	return EpochID(id), nil
}

func MustGenerateEpochID() EpochID {
	id, err := GenerateEpochID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate epoch id: %v", err))
	}

	return id
}

func (id EpochID) IsZero() bool {
	return id == EpochID{}
}

func (id EpochID) String() string {
	return base58.Encode(id[:])
}

func ParseEpochID(s string) (EpochID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EpochID{}, fmt.Errorf("invalid epoch id: %w", err)
	}
	if len(b) != len(EpochID{}) {
		return EpochID{}, fmt.Errorf("invalid epoch id length: %d", len(b))
	}

	var id EpochID
	copy(id[:], b)
	return id, nil
}

// GenerateStreamID returns a random identifier for an event subscriber.
func GenerateStreamID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
