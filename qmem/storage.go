// Package qmem models the slot bank of a node. A slot holds at most one half
// of an entangled pair.
package qmem

import (
	"errors"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// SlotID identifies a slot in a bank.
type SlotID int

// ErrAllocationFull is returned when a bank cannot provide the requested
// number of free slots.
var ErrAllocationFull = errors.New("allocation full")

// An EntanglementRecord claims the slot that holds one half of a pair. ID is
// global so that the far side can correlate its own half.
type EntanglementRecord struct {
	Slot SlotID
	ID   string
}

// A Handle describes the half-pair held in a slot.
type Handle struct {
	PairID   string
	Fidelity float64
	StoredAt sim.VTimeInSec

	// X and Z are the Pauli corrections still to be applied to the half.
	X bool
	Z bool
}

// Storage is the interface that protocol layers use to manage slots.
type Storage interface {
	sim.Named

	// Allocate reserves count free slots, restricted to partition when it is
	// not empty. It returns ErrAllocationFull if not enough slots are free.
	Allocate(count int, partition []SlotID) ([]SlotID, error)

	// Deallocate releases reserved slots that do not hold a pair.
	Deallocate(slots ...SlotID)

	// Destroy discards the pairs held in the slots and releases the slots.
	Destroy(slots ...SlotID)

	// Store places a half-pair into a reserved slot.
	Store(slot SlotID, h Handle)

	// Peek returns the handles of the slots. Empty slots yield zero handles.
	Peek(slots ...SlotID) []Handle

	// SetFidelity records the fidelity of the half held in slot after an
	// operation such as purification changed it.
	SetFidelity(slot SlotID, fidelity float64)

	// Correct flips the pending Pauli frame of the half held in slot.
	Correct(slot SlotID, x, z bool)

	// SlotFreed fires whenever a slot is released.
	SlotFreed() coop.Awaitable
}
