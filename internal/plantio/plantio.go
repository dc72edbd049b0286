// Package plantio is the PLC tag bus. Tags are 16-bit signed integers; booleans are 0/1.
package plantio

import (
	"context"
	"errors"
)

var ErrUnknownTag = errors.New("unknown PLC tag")

// PlantIO PLC标签读写接口
type PlantIO interface {
	WriteTag(ctx context.Context, name string, value int) error
	ReadTag(ctx context.Context, name string) (int, error)
	Connected() bool
}

// Bool converts a boolean to its tag value.
func Bool(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ReadBool reads a tag as a boolean; any non-zero value is true.
func ReadBool(ctx context.Context, io PlantIO, name string) (bool, error) {
	v, err := io.ReadTag(ctx, name)
	return v != 0, err
}
