package gc

import (
	"fmt"
	"strconv"
)

type valueTag uint8

const (
	tagUndefined valueTag = iota
	tagInt
	tagCell
	tagEmpty // hash table tombstone, never visible to mutators
)

// Value is a tagged union of undefined, int64 and a cell reference. The zero
// Value is undefined.
type Value struct {
	tag valueTag
	i   int64
	c   *Cell
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Int returns an integer value.
func Int(n int64) Value { return Value{tag: tagInt, i: n} }

// CellValue wraps c. A nil c yields undefined.
func CellValue(c *Cell) Value {
	if c == nil {
		return Value{}
	}
	return Value{tag: tagCell, c: c}
}

func (v Value) IsUndefined() bool { return v.tag == tagUndefined }
func (v Value) IsInt() bool       { return v.tag == tagInt }
func (v Value) IsCell() bool      { return v.tag == tagCell }

// Int64 returns the integer payload. It panics if v is not an integer.
func (v Value) Int64() int64 {
	if v.tag != tagInt {
		panic("gc: Value is not an int")
	}
	return v.i
}

// Cell returns the referenced cell, or nil if v does not hold one. The
// result is resolved through any forwarding pointer.
func (v Value) Cell() *Cell {
	if v.tag != tagCell {
		return nil
	}
	return v.c.Resolve()
}

// Equal reports whether v and o are the same value. Cells compare by
// identity after forwarding.
func (v Value) Equal(o Value) bool {
	if v.tag != o.tag {
		return false
	}
	switch v.tag {
	case tagInt:
		return v.i == o.i
	case tagCell:
		return v.c.Resolve() == o.c.Resolve()
	}
	return true
}

func (v Value) String() string {
	switch v.tag {
	case tagInt:
		return strconv.FormatInt(v.i, 10)
	case tagCell:
		c := v.c.Resolve()
		if s, ok := c.thing.(*String); ok {
			return strconv.Quote(s.s)
		}
		return fmt.Sprintf("<%s@%#x>", c.kind, c.Addr())
	case tagEmpty:
		return "<empty>"
	}
	return "undefined"
}

func (v Value) resolved() Value {
	if v.tag == tagCell {
		v.c = v.c.Resolve()
	}
	return v
}
