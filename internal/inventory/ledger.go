package inventory

// Levels is the stock/reserved counter pair for a product or variant.
// Reserved units are held against unpaid orders and are not part of
// sellable stock accounting until fulfillment.
type Levels struct {
	Stock    int64
	Reserved int64
}

// Fulfill moves qty units out of both stock and the reservation hold.
// Both counters floor at zero: a qty exceeding current levels must not
// drive them negative.
func (l Levels) Fulfill(qty int64) Levels {
	return Levels{
		Stock:    floorZero(l.Stock - qty),
		Reserved: floorZero(l.Reserved - qty),
	}
}

// Release drops the reservation hold without touching stock; the units
// were never removed from sellable inventory, only held.
func (l Levels) Release(qty int64) Levels {
	return Levels{
		Stock:    l.Stock,
		Reserved: floorZero(l.Reserved - qty),
	}
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
