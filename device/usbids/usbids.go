// Package usbids resolves (vid, pid) pairs to vendor/product names.
//
// There is no third-party Go library for this in the retrieval pack (the
// PCI equivalent, jaypipes/pcidb, has no USB sibling) or, to the author's
// knowledge, in wide use in the Go ecosystem, so this is the one
// ambient piece of the domain stack implemented against the standard
// library: a bufio scan of a usb.ids-formatted file, pre-loaded once at
// startup per the spec's §9 resolution of that open question.
package usbids

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"strings"
	"sync"
)

//go:embed usb.ids.snapshot
var builtinSnapshot []byte

// Candidate paths for a live system database, checked in order and
// preferred over the embedded snapshot when present.
var systemPaths = []string{
	"/var/lib/usbutils/usb.ids",
	"/usr/share/hwdata/usb.ids",
	"/usr/share/misc/usb.ids",
}

type product struct {
	vendorName  string
	productName string
}

// DB is a pre-loaded, read-only vendor/product name table. It is safe
// for concurrent use.
type DB struct {
	mu       sync.RWMutex
	products map[string]product // key: "vid:pid", lowercase hex
}

// Load builds a DB from the first readable system path, falling back to
// the bundled snapshot. It never fails: a missing or malformed database
// degrades to an empty lookup table rather than blocking startup.
func Load() *DB {
	db := &DB{products: make(map[string]product)}

	for _, p := range systemPaths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}

		func() {
			defer f.Close()
			db.parse(f)
		}()

		return db
	}

	db.parse(strings.NewReader(string(builtinSnapshot)))

	return db
}

// parse reads a usb.ids-formatted stream:
//
//	vvvv  Vendor Name
//	\tpppp  Product Name
//
// Lines starting with '#' and blank lines are skipped; a blank line does
// not end the current vendor block. A top-level line whose id field is
// not four characters clears the current vendor, and a tab-indented line
// whose id is not four characters is ignored, which is how the
// interface entries and the class tables further down the real file are
// passed over.
func (db *DB) parse(r io.Reader) {
	scanner := bufio.NewScanner(r)
	var curVendor, curVid string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "\t") {
			if curVid == "" {
				continue
			}

			fields := strings.SplitN(strings.TrimPrefix(line, "\t"), "  ", 2)
			if len(fields) != 2 {
				continue
			}

			pid := strings.ToLower(strings.TrimSpace(fields[0]))
			name := strings.TrimSpace(fields[1])
			if len(pid) != 4 {
				continue
			}

			db.products[curVid+":"+pid] = product{vendorName: curVendor, productName: name}
			continue
		}

		// Top-level vendor line, e.g. "046d  Logitech, Inc."
		fields := strings.SplitN(line, "  ", 2)
		if len(fields) != 2 || len(fields[0]) != 4 {
			curVid = ""
			continue
		}

		curVid = strings.ToLower(strings.TrimSpace(fields[0]))
		curVendor = strings.TrimSpace(fields[1])
	}
}

// Lookup returns the vendor and product name for (vid, pid), or ("", "")
// if the pair is not in the database.
func (db *DB) Lookup(vid, pid string) (vendorName, productName string) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	p, ok := db.products[strings.ToLower(vid)+":"+strings.ToLower(pid)]
	if !ok {
		return "", ""
	}

	return p.vendorName, p.productName
}
