// Copyright (c) Facebook, Inc. and its affiliates. All Rights Reserved

package cqf

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ReadMetadataFromPath reads just the Metadata header from a filter file
// at path, without mapping the rest of the file. Useful for inspecting a
// filter (size, load, geometry) without paying for a full mmap, and is
// what OpenFile uses to learn how large a mapping to request.
func ReadMetadataFromPath(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrFileError, err)
	}
	defer f.Close()

	var m Metadata
	if err := binary.Read(f, binary.LittleEndian, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: reading metadata header: %v", ErrInvalidFile, err)
	}
	if m.TotalSizeBytes == 0 || m.NumBlocks == 0 {
		return Metadata{}, fmt.Errorf("%w: %s does not look like a filter file", ErrInvalidFile, path)
	}
	return m, nil
}
