// Command pduftctl loads a static PDU Forwarding Table definition from
// CSV, validates and canonicalizes it (address-sorted, duplicates
// resolved by last-entry-wins, matching pduft.Table.Set's own
// replace-on-conflict semantics), and writes the result back out as
// CSV. It works on files only: it does not connect to a running ipcpd,
// and ipcpd has no runtime operation for loading or dumping its table.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/spf13/pflag"

	"github.com/samsneelam1981/rlite-go/internal/pduft"
)

func main() {
	var inPath, outPath string
	pflag.StringVarP(&inPath, "in", "i", "", "input CSV file (address,owner columns); reads stdin if unset")
	pflag.StringVarP(&outPath, "out", "o", "", "output CSV file; writes stdout if unset")
	help := pflag.BoolP("help", "h", false, "show help")
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	if err := run(inPath, outPath); err != nil {
		fmt.Fprintln(os.Stderr, "pduftctl:", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string) error {
	in := os.Stdin
	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", inPath, err)
		}
		defer f.Close()
		in = f
	}

	var rows []*pduft.Row
	if err := gocsv.Unmarshal(in, &rows); err != nil {
		return fmt.Errorf("parsing CSV: %w", err)
	}

	canonical := canonicalize(rows)

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()
		out = f
	}

	if err := gocsv.Marshal(canonical, out); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}

// canonicalize applies pduft.Table.Set's last-write-wins rule to a flat
// row list (instead of attaching real Owners) and returns the rows in
// pduft.Table.Snapshot's address-sorted order, so piping a file through
// pduftctl twice is a no-op.
func canonicalize(rows []*pduft.Row) []*pduft.Row {
	byAddr := make(map[uint64]*pduft.Row, len(rows))
	order := make([]uint64, 0, len(rows))
	for _, r := range rows {
		if _, seen := byAddr[r.Addr]; !seen {
			order = append(order, r.Addr)
		}
		byAddr[r.Addr] = r
	}

	out := make([]*pduft.Row, 0, len(order))
	for _, addr := range order {
		out = append(out, byAddr[addr])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
