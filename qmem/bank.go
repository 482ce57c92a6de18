package qmem

import (
	"fmt"
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// HookPosAllocate marks when slots are reserved. The item is the slot list.
var HookPosAllocate = &sim.HookPos{Name: "SlotAllocate"}

// HookPosRelease marks when slots are released. The item is the slot list and
// the detail is a ReleaseKind.
var HookPosRelease = &sim.HookPos{Name: "SlotRelease"}

// ReleaseKind tells how a slot was released.
type ReleaseKind string

// Release kinds.
const (
	ReleaseDeallocate ReleaseKind = "deallocate"
	ReleaseDestroy    ReleaseKind = "destroy"
)

type slotState int

const (
	slotFree slotState = iota
	slotReserved
	slotOccupied
)

type slot struct {
	state  slotState
	handle Handle
}

// A Bank is a fixed number of slots owned by one node.
type Bank struct {
	sim.HookableBase

	name      string
	slots     []slot
	freed     *coop.Signal
	allocated uint64
	released  uint64
}

// NewBank creates a bank with size slots.
func NewBank(name string, size int) *Bank {
	sim.NameMustBeValid(name)

	if size <= 0 {
		log.Panicf("bank %s must have at least one slot", name)
	}

	return &Bank{
		name:  name,
		slots: make([]slot, size),
		freed: coop.NewSignal(name + ".SlotFreed"),
	}
}

// Name returns the name of the bank.
func (b *Bank) Name() string {
	return b.name
}

// Size returns the number of slots.
func (b *Bank) Size() int {
	return len(b.slots)
}

// Partition returns the slots in [from, to).
func (b *Bank) Partition(from, to int) []SlotID {
	if from < 0 || to > len(b.slots) || from >= to {
		log.Panicf("bank %s: invalid partition [%d, %d)", b.name, from, to)
	}

	p := make([]SlotID, 0, to-from)
	for i := from; i < to; i++ {
		p = append(p, SlotID(i))
	}

	return p
}

// Allocate reserves count free slots, lowest ids first.
func (b *Bank) Allocate(count int, partition []SlotID) ([]SlotID, error) {
	if count <= 0 {
		log.Panicf("bank %s: allocating %d slots", b.name, count)
	}

	candidates := partition
	if len(candidates) == 0 {
		candidates = b.Partition(0, len(b.slots))
	}

	picked := make([]SlotID, 0, count)
	for _, id := range candidates {
		if b.at(id).state == slotFree {
			picked = append(picked, id)
			if len(picked) == count {
				break
			}
		}
	}

	if len(picked) < count {
		return nil, fmt.Errorf("%w: bank %s has %d of %d slots free",
			ErrAllocationFull, b.name, len(picked), count)
	}

	for _, id := range picked {
		b.at(id).state = slotReserved
	}
	b.allocated += uint64(len(picked))
	b.invoke(HookPosAllocate, picked, nil)

	return picked, nil
}

// Deallocate releases reserved slots. Releasing a free slot or a slot that
// still holds a pair panics.
func (b *Bank) Deallocate(slots ...SlotID) {
	for _, id := range slots {
		s := b.at(id)
		switch s.state {
		case slotFree:
			log.Panicf("bank %s: deallocating free slot %d", b.name, id)
		case slotOccupied:
			log.Panicf("bank %s: deallocating slot %d that holds pair %s",
				b.name, id, s.handle.PairID)
		}
	}

	b.release(slots, ReleaseDeallocate)
}

// Destroy discards the pairs held in the slots and releases the slots.
func (b *Bank) Destroy(slots ...SlotID) {
	for _, id := range slots {
		if b.at(id).state == slotFree {
			log.Panicf("bank %s: destroying free slot %d", b.name, id)
		}
	}

	b.release(slots, ReleaseDestroy)
}

func (b *Bank) release(slots []SlotID, kind ReleaseKind) {
	if len(slots) == 0 {
		return
	}

	for _, id := range slots {
		*b.at(id) = slot{}
	}
	b.released += uint64(len(slots))

	b.invoke(HookPosRelease, slots, kind)
	b.freed.Emit(slots)
}

// Store places a half-pair into a reserved slot.
func (b *Bank) Store(id SlotID, h Handle) {
	s := b.at(id)
	if s.state != slotReserved {
		log.Panicf("bank %s: storing into slot %d that is not reserved",
			b.name, id)
	}

	s.state = slotOccupied
	s.handle = h
}

// Peek returns the handles held by the slots.
func (b *Bank) Peek(slots ...SlotID) []Handle {
	handles := make([]Handle, len(slots))
	for i, id := range slots {
		handles[i] = b.at(id).handle
	}

	return handles
}

// Correct flips the Pauli frame of the half held in the slot.
func (b *Bank) Correct(id SlotID, x, z bool) {
	s := b.at(id)
	if s.state != slotOccupied {
		log.Panicf("bank %s: correcting empty slot %d", b.name, id)
	}

	s.handle.X = s.handle.X != x
	s.handle.Z = s.handle.Z != z
}

// SetFidelity updates the fidelity of the half held in the slot.
func (b *Bank) SetFidelity(id SlotID, fidelity float64) {
	s := b.at(id)
	if s.state != slotOccupied {
		log.Panicf("bank %s: updating empty slot %d", b.name, id)
	}

	s.handle.Fidelity = fidelity
}

// SlotFreed fires whenever slots are released. The value is the slot list.
func (b *Bank) SlotFreed() coop.Awaitable {
	return b.freed
}

// InUse returns the number of slots that are reserved or occupied.
func (b *Bank) InUse() int {
	n := 0
	for _, s := range b.slots {
		if s.state != slotFree {
			n++
		}
	}

	return n
}

// Occupied returns the number of slots that hold a pair.
func (b *Bank) Occupied() int {
	n := 0
	for _, s := range b.slots {
		if s.state == slotOccupied {
			n++
		}
	}

	return n
}

// Allocated returns the total number of slots ever reserved.
func (b *Bank) Allocated() uint64 {
	return b.allocated
}

// Released returns the total number of slots ever released.
func (b *Bank) Released() uint64 {
	return b.released
}

func (b *Bank) at(id SlotID) *slot {
	if id < 0 || int(id) >= len(b.slots) {
		log.Panicf("bank %s: slot %d out of range", b.name, id)
	}

	return &b.slots[id]
}

func (b *Bank) invoke(pos *sim.HookPos, slots []SlotID, detail any) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   slots,
		Detail: detail,
	})
}
