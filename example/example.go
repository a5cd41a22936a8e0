package main

import (
	"fmt"
	"os"

	cqf "github.com/COMPAS-Lab/cqf-go"
)

func main() {
	// helper routines are available to let you size your filter correctly
	fmt.Printf("Example of analyzing size requirements:\n")
	conf := cqf.Config{ExpectedEntries: 1000000000}
	fmt.Printf("A billion entry filter would be loaded at %.2f percent...\n", conf.ExpectedLoading())
	conf.ExplainIndent("  ")

	fmt.Printf("\nExample of loading and using a small counting quotient filter:\n")
	data := []string{
		"red", "yellow", "orange", "blue", "red", "red",
	}

	filter, err := cqf.New(cqf.Config{ExpectedEntries: uint64(len(data))})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new: %v\n", err)
		os.Exit(1)
	}
	defer filter.Close()

	for _, color := range data {
		if err := filter.Insert([]byte(color), 1); err != nil {
			fmt.Fprintf(os.Stderr, "insert %q: %v\n", color, err)
			os.Exit(1)
		}
	}

	for _, color := range []string{
		"red",
		"orange",
		"yellow",
		"green",
		"blue",
		"indigo",
		"violet",
	} {
		fmt.Printf("%s: count=%d\n", color, filter.Query([]byte(color)))
	}

	// Dump the whole filter in textual form
	filter.DebugDump(os.Stdout)

	// Serialize the filter and report size
	raw := filter.SerializeToBytes()
	fmt.Printf("filter serializes into %d bytes\n", len(raw))

	// Walk every (count, hash) pair in order
	it := filter.Iterator()
	for {
		count, hash, ok := it.Next()
		if !ok {
			break
		}
		fmt.Printf("entry: hash=%#x count=%d\n", hash, count)
	}
}
