package jit

import (
	"fmt"
	"io"
	"strings"
)

const (
	maxNameWidth = 30
	maxFileWidth = 40
	ellipsis     = "..."
)

// writeTable renders records as the `jit list` table.
func writeTable(w io.Writer, recs []CodeRecord) {
	fmt.Fprintln(w, "JIT-compiled functions:")
	fmt.Fprintln(w, "----------------------------")
	fmt.Fprintln(w, "Address            Size     Function Name                  Source File")
	fmt.Fprintln(w, "------------------ -------- ------------------------------ ---------------------------")
	for _, rec := range recs {
		fmt.Fprintf(w, "0x%016X %8d %-30s %s\n", rec.Addr, rec.Size, displayName(rec.Name), displayFile(rec.File))
	}
}

// displayName cuts names longer than 30 characters to 27 plus "...".
func displayName(name string) string {
	r := []rune(name)
	if len(r) <= maxNameWidth {
		return name
	}
	return string(r[:maxNameWidth-len(ellipsis)]) + ellipsis
}

// displayFile keeps only the last path component of paths longer than 40
// characters. Paths without a separator are cut like names.
func displayFile(file string) string {
	r := []rune(file)
	if len(r) <= maxFileWidth {
		return file
	}
	if idx := strings.LastIndexAny(file, `/\`); idx >= 0 {
		return ellipsis + file[idx:]
	}
	return string(r[:maxFileWidth-len(ellipsis)]) + ellipsis
}

// WritePerfMap writes recs in the Linux perf map format read by perf and
// most profilers: "<start hex> <size hex> <name>" per line.
func WritePerfMap(w io.Writer, recs []CodeRecord) error {
	for _, rec := range recs {
		if _, err := fmt.Fprintf(w, "%x %x %s\n", rec.Addr, rec.Size, rec.Name); err != nil {
			return err
		}
	}
	return nil
}
