package proto

import "errors"

var ErrPageIndex = errors.New("proto: page index out of range")

const (
	pageIndexMask  = 0xFFFF
	pageCountShift = 16
)

// PackIndex builds the value of a paginated item: (total << 16) | index.
func PackIndex(total, index uint16) uint32 {
	return uint32(total)<<pageCountShift | uint32(index)&pageIndexMask
}

func UnpackIndex(value uint32) (total, index uint16) {
	return uint16(value >> pageCountShift), uint16(value & pageIndexMask)
}
