// Copyright (c) Facebook, Inc. and its affiliates. All Rights Reserved

package cqf

import "fmt"

// minQuotientBits is the smallest quotient width this package will
// derive automatically; below this the block offset bookkeeping has too
// little room to behave sensibly.
const minQuotientBits = 4

// defaultHashBits is used when a Config does not specify HashBits; it
// comfortably covers a 64 bit hash with room for quotient bits to spare.
const defaultHashBits = 64

// Config controls how a new filter is sized and hashed.
type Config struct {
	// ExpectedEntries pre-sizes a filter so it can hold this many
	// inserts without exceeding the 0.80 load-factor ceiling.
	ExpectedEntries uint64
	// HashBits is the total width of hashes fed to the filter; it is
	// split into quotient bits (selecting a home slot) and remainder
	// bits (stored in the slot). Defaults to 64.
	HashBits uint
	// HashBuilder constructs the hasher used by Insert/Query/SetCount
	// when callers pass raw keys rather than pre-computed hashes.
	// Defaults to DefaultHashBuilder (MurmurHash64A).
	HashBuilder HashBuilder
	// Invertible, when true, records in the Metadata that hashes stored
	// in this filter were produced by a ReversibleHasher and so can be
	// mapped back to their original keys.
	Invertible bool
}

// QuotientBits returns the number of quotient bits needed to hold
// ExpectedEntries at the filter's 0.80 load factor, adding one bit at a
// time (doubling the slot count) from minQuotientBits until it fits. It returns ErrInvalidArguments if
// ExpectedEntries is large enough to need every available hash bit for
// the quotient, leaving none for a remainder.
func (c *Config) QuotientBits() (uint64, error) {
	hashBits := uint64(c.hashBits())
	for bits := uint64(minQuotientBits); bits < hashBits; bits++ {
		m, err := newMetadata(bits, hashBits, c.Invertible)
		if err != nil {
			return 0, err
		}
		if maxOccupiedSlots(m.NumRealSlots) >= c.ExpectedEntries {
			return bits, nil
		}
	}
	return 0, fmt.Errorf("%w: %d expected entries need more quotient bits than a %d bit hash can spare for a remainder", ErrInvalidArguments, c.ExpectedEntries, hashBits)
}

func (c *Config) hashBits() uint {
	if c.HashBits == 0 {
		return defaultHashBits
	}
	return c.HashBits
}

func (c *Config) hashBuilder() HashBuilder {
	if c.HashBuilder == nil {
		return DefaultHashBuilder
	}
	return c.HashBuilder
}

// DetermineSize computes the Metadata and total backing-region size (in
// bytes, Metadata header plus block array) that New/NewFile will use for
// this configuration. It returns ErrInvalidArguments for a configuration
// whose geometry cannot be realized (see QuotientBits, newMetadata).
func (c *Config) DetermineSize() (Metadata, uint64, error) {
	qbits, err := c.QuotientBits()
	if err != nil {
		return Metadata{}, 0, err
	}
	m, err := newMetadata(qbits, uint64(c.hashBits()), c.Invertible)
	if err != nil {
		return Metadata{}, 0, err
	}
	total := uint64(metadataSize) + bytesNeededForBlocks(m.NumBlocks, uint(m.RemainderBits))
	m.TotalSizeBytes = total
	return m, total, nil
}

// ExpectedLoading reports the expected load factor, as a percentage,
// once ExpectedEntries have been inserted. Reports 0 for a configuration
// DetermineSize cannot realize.
func (c *Config) ExpectedLoading() float64 {
	m, _, err := c.DetermineSize()
	if err != nil {
		return 0
	}
	return 100. * float64(c.ExpectedEntries) / float64(m.NumRealSlots)
}

// ExplainIndent prints an indented summary of the configuration.
func (c *Config) ExplainIndent(indent string) {
	m, total, err := c.DetermineSize()
	if err != nil {
		fmt.Printf("%s%v\n", indent, err)
		return
	}
	fmt.Printf("%s%2d bits configured for quotient (%d slots)\n", indent, m.QuotientBits, uint64(1)<<m.QuotientBits)
	fmt.Printf("%s%2d bits needed per slot for remainder\n", indent, m.RemainderBits)
	fmt.Printf("%s%8d real slots across %d blocks\n", indent, m.NumRealSlots, m.NumBlocks)
	fmt.Printf("%s%8d max occupied slots (0.80 load factor)\n", indent, maxOccupiedSlots(m.NumRealSlots))
	fmt.Printf("%s   %s storage size expected\n", indent, humanBytes(uint(total)))
}

// Explain prints a summary of the configuration to stdout.
func (c *Config) Explain() {
	c.ExplainIndent("")
}

func humanBytes(bytes uint) string {
	v := float64(bytes)
	suffix := "bytes"
	if v > 1024 {
		v /= 1024.
		suffix = "KB"
		if v > 1024. {
			suffix = "MB"
			v /= 1024.0
			if v > 1024. {
				suffix = "GB"
				v /= 1024.
			}
		}
	}
	if v < 10 {
		return fmt.Sprintf("%0.2f %s", v, suffix)
	} else if v < 100 {
		return fmt.Sprintf("%0.1f %s", v, suffix)
	} else {
		return fmt.Sprintf("%0.0f %s", v, suffix)
	}
}
