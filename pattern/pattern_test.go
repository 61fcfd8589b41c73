package pattern

import "testing"

func TestMatch(t *testing.T) {
	// bit 0 of byte 0: want value 1 -> byte0 must be odd
	p := Pattern{
		{Position: 0, Expected: 1},
		{Position: 1, Expected: 0},
		{Position: 2, Expected: 1},
		{Position: 3, Expected: 0},
		{Position: 4, Expected: 1},
		{Position: 5, Expected: 0},
		{Position: 6, Expected: 1},
		{Position: 7, Expected: 0},
		{Position: 8, Expected: 1},
		{Position: 9, Expected: 0},
	}
	var id [32]byte
	// byte0 = 0b01010101 (bits 0,2,4,6 = 1; bits 1,3,5,7 = 0)
	id[0] = 0b01010101
	// byte1 bit0 (global bit 8) = 1, bit1 (global bit 9) = 0
	id[1] = 0b00000001
	if !Match(id, p) {
		t.Fatal("expected pattern to match constructed id")
	}

	id[0] = 0b01010100 // flip bit 0 to 0
	if Match(id, p) {
		t.Fatal("expected pattern mismatch after flipping bit 0")
	}
}

func TestMatchEmptyPattern(t *testing.T) {
	var p Pattern // all zero-value bits: position 0 expected 0
	var id [32]byte
	if !Match(id, p) {
		t.Fatal("zero id should satisfy zero-valued pattern")
	}
}
