package structure

import (
	"strconv"
	"strings"
)

// VectorClock holds one counter per process. Process ids start from 1,
// so slot id lives at index id-1.
type VectorClock []int

func NewVectorClock(n int) VectorClock {
	return make(VectorClock, n)
}

func (vc VectorClock) Len() int {
	return len(vc)
}

// Get returns the counter of process id.
func (vc VectorClock) Get(id int) int {
	return vc[id-1]
}

// Increment bumps the counter of process id. Only process id itself does
// this, when it broadcasts.
func (vc VectorClock) Increment(id int) {
	vc[id-1]++
}

// MergeMax sets vc to the element-wise maximum of vc and other.
func (vc VectorClock) MergeMax(other VectorClock) {
	for i := range vc {
		if i < len(other) && other[i] > vc[i] {
			vc[i] = other[i]
		}
	}
}

// Snapshot returns a deep copy of vc.
func (vc VectorClock) Snapshot() VectorClock {
	return append(VectorClock{}, vc...)
}

// LessOrEqual reports whether vc is causally before or equal to other.
func (vc VectorClock) LessOrEqual(other VectorClock) bool {
	if len(vc) != len(other) {
		return false
	}
	for i := range vc {
		if vc[i] > other[i] {
			return false
		}
	}
	return true
}

func (vc VectorClock) Equal(other VectorClock) bool {
	if len(vc) != len(other) {
		return false
	}
	for i := range vc {
		if vc[i] != other[i] {
			return false
		}
	}
	return true
}

func (vc VectorClock) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, c := range vc {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(c))
	}
	sb.WriteByte(']')
	return sb.String()
}
