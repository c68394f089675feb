// Package ordered implements an insertion-ordered hash table.
//
// A Table keeps its entries in one contiguous data array in the order they
// were first inserted, with a separate power-of-two bucket array whose chains
// are threaded through the entries by index. Removed entries are left in
// place as tombstones until the table is compacted or rehashed, which lets
// outstanding iterators (Ranges) stay valid across insertions, removals,
// resizes and clears.
//
// This package contains:
//   - Table, the generic engine, parameterised by a compile-time key Policy
//   - Range, the live iterator that tables keep notified of mutations
//   - Map and Set, typed facades over Table
//   - Scrambler, the per-table keyed hash scrambler stored with the buckets
//   - AllocPolicy, the memory-accounting hook every buffer goes through
package ordered
