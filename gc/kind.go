package gc

// Kind identifies the layout of a cell's payload.
type Kind uint8

const (
	KindObject Kind = iota
	KindString
	KindSymbol
	KindMap
	KindSet
	KindWeakMap
	KindWeakRef
	KindIterator

	numKinds
)

var kindNames = [numKinds]string{
	KindObject:   "Object",
	KindString:   "String",
	KindSymbol:   "Symbol",
	KindMap:      "Map",
	KindSet:      "Set",
	KindWeakMap:  "WeakMap",
	KindWeakRef:  "WeakRef",
	KindIterator: "Iterator",
}

// Simulated cell sizes in bytes, used for gc-bytes accounting and addresses.
var kindSizes = [numKinds]uint64{
	KindObject:   32,
	KindString:   24,
	KindSymbol:   24,
	KindMap:      48,
	KindSet:      48,
	KindWeakMap:  48,
	KindWeakRef:  16,
	KindIterator: 32,
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "Unknown"
}

// Size returns the simulated cell size for k.
func (k Kind) Size() uint64 {
	return kindSizes[k]
}

// Kinds whose payloads own table storage need a finalizer and are never
// allocated in the nursery.
func (k Kind) nurseryAllocatable() bool {
	switch k {
	case KindMap, KindSet, KindWeakMap:
		return false
	}
	return true
}
