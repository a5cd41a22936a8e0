package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	cqf "github.com/COMPAS-Lab/cqf-go"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "cqfctl",
		Usage: "build, inspect, and merge counting quotient filters",
		Commands: []*cli.Command{
			{
				Name:  "compile",
				Usage: "compile a list of terms into a counting quotient filter",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"out", "o"},
						Value:   "cqf.bin",
						Usage:   "name of the file to write the filter to",
					},
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"in", "i"},
						Usage:   "file to read terms from, one per line (default is stdin)",
					},
					&cli.Uint64Flag{
						Name:  "expected-entries",
						Value: 1 << 16,
						Usage: "number of distinct terms to size the filter for",
					},
				},
				Action: func(c *cli.Context) error {
					output := c.String("output")
					if _, err := os.Stat(output); !os.IsNotExist(err) {
						return fmt.Errorf("refusing to over-write existing file: %s", output)
					}
					if c.NArg() > 0 {
						return fmt.Errorf("unexpected command line arguments: %q", c.Args().Slice())
					}

					var reader io.Reader
					if c.IsSet("input") {
						f, err := os.Open(c.String("input"))
						if err != nil {
							return err
						}
						reader = f
						defer f.Close()
					} else {
						reader = os.Stdin
					}

					filter, err := cqf.NewFile(output, cqf.Config{ExpectedEntries: c.Uint64("expected-entries")})
					if err != nil {
						return fmt.Errorf("compile: can't create %s: %w", output, err)
					}
					defer filter.Close()

					rdr := bufio.NewReader(reader)
					start := time.Now()
					var inserted uint64
					for {
						l, _, err := rdr.ReadLine()
						if err != nil {
							if err == io.EOF {
								break
							}
							return err
						}
						s := strings.TrimSpace(string(l))
						if s == "" {
							continue
						}
						if err := filter.Insert([]byte(s), 1); err != nil {
							return fmt.Errorf("compile: inserting %q: %w", s, err)
						}
						inserted++
					}
					log.Printf("inserted %d terms in %s", inserted, time.Since(start))
					log.Printf("wrote %d bytes to %s", filter.SizeBytes(), output)
					return nil
				},
			},
			{
				Name:  "lookup",
				Usage: "look up a term's count in a counting quotient filter",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"in", "i"},
						Usage:   "file containing the filter",
					},
				},
				Action: func(c *cli.Context) error {
					filter, err := cqf.OpenFile(c.String("input"))
					if err != nil {
						return fmt.Errorf("lookup: can't open %s: %w", c.String("input"), err)
					}
					defer filter.Close()

					term := strings.Join(c.Args().Slice(), " ")
					count := filter.Query([]byte(term))
					fmt.Printf("%q: count=%d\n", term, count)
					return nil
				},
			},
			{
				Name:  "describe",
				Usage: "print the geometry and load of a counting quotient filter",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"in", "i"},
						Usage:   "file containing the filter",
					},
				},
				Action: func(c *cli.Context) error {
					m, err := cqf.ReadMetadataFromPath(c.String("input"))
					if err != nil {
						return fmt.Errorf("describe: can't read %s: %w", c.String("input"), err)
					}
					fmt.Printf("quotient bits: %d (%d slots)\n", m.QuotientBits, uint64(1)<<m.QuotientBits)
					fmt.Printf("remainder bits: %d\n", m.RemainderBits)
					fmt.Printf("real slots: %d across %d blocks\n", m.NumRealSlots, m.NumBlocks)
					fmt.Printf("occupied slots: %d\n", m.NumOccupiedSlots)
					fmt.Printf("largest offset: %d / %d\n", m.LargestOffset, m.LargestPossibleOffset)
					fmt.Printf("invertible: %t\n", m.Invertible())
					return nil
				},
			},
			{
				Name:      "merge",
				Usage:     "merge two counting quotient filters into a third",
				ArgsUsage: "a.bin b.bin out.bin",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("merge: expected exactly 3 arguments, got %d", c.NArg())
					}
					aPath, bPath, outPath := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

					a, err := cqf.OpenFile(aPath)
					if err != nil {
						return fmt.Errorf("merge: can't open %s: %w", aPath, err)
					}
					defer a.Close()
					b, err := cqf.OpenFile(bPath)
					if err != nil {
						return fmt.Errorf("merge: can't open %s: %w", bPath, err)
					}
					defer b.Close()

					am, bm := a.Metadata(), b.Metadata()
					expected := maxUint64(am.NumOccupiedSlots, bm.NumOccupiedSlots) + am.NumOccupiedSlots + bm.NumOccupiedSlots
					out, err := cqf.NewFile(outPath, cqf.Config{
						ExpectedEntries: expected,
						HashBits:        uint(am.QuotientBits + am.RemainderBits),
						Invertible:      am.Invertible() && bm.Invertible(),
					})
					if err != nil {
						return fmt.Errorf("merge: can't create %s: %w", outPath, err)
					}
					defer out.Close()

					if err := cqf.Merge(a.Iterator(), b.Iterator(), out); err != nil {
						return fmt.Errorf("merge: %w", err)
					}
					log.Printf("merged %s + %s -> %s (%d occupied slots)", aPath, bPath, outPath, out.NumOccupiedSlots())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
