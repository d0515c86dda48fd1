package tipjar

import (
	"fmt"
	"math/bits"
)

const (
	// DefaultRentPerByte is the allocation price per byte of record storage.
	DefaultRentPerByte uint64 = 6960
	// recordOverhead is charged on top of every record's encoded size.
	recordOverhead = 128
)

// FeeSchedule prices the storage deposit locked by every new record.
type FeeSchedule struct {
	RentPerByte uint64
}

// DefaultFeeSchedule returns the standard schedule.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{RentPerByte: DefaultRentPerByte}
}

// AllocationFee returns the deposit charged when a record of kind is created.
func (f FeeSchedule) AllocationFee(kind Kind) (uint64, error) {
	size := MaxEncodedSize(kind)
	if size == 0 {
		return 0, fmt.Errorf("tipjar: unknown record kind %q", kind)
	}
	hi, lo := bits.Mul64(uint64(size+recordOverhead), f.RentPerByte)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}
