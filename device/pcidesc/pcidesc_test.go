package pcidesc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testDB() *DB {
	return &DB{
		vendors: map[string]string{"8086": "Intel Corporation"},
		products: map[string]product{
			"8086:a352": {vendorName: "Intel Corporation", productName: "Cannon Lake PCH SATA Controller"},
		},
	}
}

func TestDescribeKnownProduct(t *testing.T) {
	assert.Equal(t, "Intel Corporation Cannon Lake PCH SATA Controller", testDB().Describe("8086", "a352"))
}

func TestDescribeUnknownProductFallsBackToVendor(t *testing.T) {
	assert.Equal(t, "Intel Corporation", testDB().Describe("8086", "ffff"))
}

func TestDescribeUnknownVendorIsEmpty(t *testing.T) {
	assert.Equal(t, "", testDB().Describe("ffff", "ffff"))
}

func TestDescribeEmptyDBIsEmpty(t *testing.T) {
	db := &DB{}
	assert.Equal(t, "", db.Describe("8086", "a352"))
}
