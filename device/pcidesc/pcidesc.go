// Package pcidesc resolves PCI (vendor, device) ids to a human
// description, the PCI analogue of device/usbids, backed by
// github.com/jaypipes/pcidb instead of a hand-rolled parser since a
// maintained Go PCI-ID database library exists in the teacher's own
// dependency set.
package pcidesc

import (
	"fmt"

	"github.com/jaypipes/pcidb"
)

type product struct {
	vendorName  string
	productName string
}

// DB is a pre-loaded, read-only (vid, did) -> description table, indexed
// once at load time the way device/usbids indexes its own vid:pid table
// rather than scanning pcidb's per-vendor product list on every lookup.
type DB struct {
	vendors  map[string]string
	products map[string]product // key: "vid:did", lowercase hex
}

// Load pre-loads the PCI ID database. A failure to find a system copy
// degrades to an empty DB rather than blocking startup, mirroring
// device/usbids.Load's never-fail contract.
func Load() *DB {
	pci, err := pcidb.New()
	if err != nil {
		return &DB{}
	}

	db := &DB{
		vendors:  make(map[string]string, len(pci.Vendors)),
		products: make(map[string]product),
	}

	for vid, vendor := range pci.Vendors {
		db.vendors[vid] = vendor.Name

		for _, p := range vendor.Products {
			db.products[vid+":"+p.ID] = product{vendorName: vendor.Name, productName: p.Name}
		}
	}

	return db
}

// Describe returns a human description for (vid, did), or "" if unknown.
func (db *DB) Describe(vid, did string) string {
	if p, ok := db.products[vid+":"+did]; ok {
		return fmt.Sprintf("%s %s", p.vendorName, p.productName)
	}

	if name, ok := db.vendors[vid]; ok {
		return name
	}

	return ""
}
