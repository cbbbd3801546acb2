package types

import "fmt"

// Window identifiers pack the reset-window generation into the upper 32 bits
// and the offset within that generation into the lower 32 bits.

func PackWindowID(generation, offset uint32) uint64 {
	return uint64(generation)<<32 | uint64(offset)
}

func WindowGeneration(id uint64) uint32 { return uint32(id >> 32) }

func WindowOffset(id uint64) uint32 { return uint32(id) }

// BaseMillis is the wall-clock base, in milliseconds, of a reset-window generation.
func BaseMillis(generation uint32) int64 {
	return int64(generation) << 32
}

// WindowMillis is the absolute wall-clock time of the window at offset in a
// generation starting at baseMillis with the given interval width.
func WindowMillis(baseMillis int64, offset uint32, width int32) int64 {
	return baseMillis + int64(offset)*int64(width)
}

// GenerationFor returns the generation whose base contains the given time.
func GenerationFor(millis int64) uint32 {
	return uint32(millis >> 32)
}

func FormatWindowID(id uint64) string {
	return fmt.Sprintf("%d:%d", WindowGeneration(id), WindowOffset(id))
}
