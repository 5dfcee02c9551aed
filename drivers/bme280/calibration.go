package bme280

// calibrationData holds the factory compensation constants. Parsed once
// during Setup and never mutated afterwards.
type calibrationData struct {
	t1 uint16
	t2 int16
	t3 int16

	p1 uint16
	p2 int16
	p3 int16
	p4 int16
	p5 int16
	p6 int16
	p7 int16
	p8 int16
	p9 int16

	h1 uint8
	h2 int16
	h3 uint8
	h4 int16 // 12-bit packed on-device
	h5 int16 // 12-bit packed on-device
	h6 int8
}

// parseCalibration decodes the 26-byte block at regCalibA followed by the
// 7-byte block at regCalibB. Multi-byte fields are little-endian two's
// complement. h4 and h5 overlap in the middle byte of 0xE4..0xE6: h4 takes
// 0xE4 as its high byte and the low nibble of 0xE5, h5 takes 0xE6 as its
// high byte and the high nibble of 0xE5. Sign extension comes from the int8
// conversion of the high byte.
func parseCalibration(a *[lenCalibA]byte, b *[lenCalibB]byte) calibrationData {
	return calibrationData{
		t1: u16le(a[0], a[1]),
		t2: s16le(a[2], a[3]),
		t3: s16le(a[4], a[5]),

		p1: u16le(a[6], a[7]),
		p2: s16le(a[8], a[9]),
		p3: s16le(a[10], a[11]),
		p4: s16le(a[12], a[13]),
		p5: s16le(a[14], a[15]),
		p6: s16le(a[16], a[17]),
		p7: s16le(a[18], a[19]),
		p8: s16le(a[20], a[21]),
		p9: s16le(a[22], a[23]),

		// a[24] is reserved (0xA0); h1 sits alone at 0xA1.
		h1: a[25],
		h2: s16le(b[0], b[1]),
		h3: b[2],
		h4: int16(int8(b[3]))<<4 | int16(b[4]&0x0F),
		h5: int16(int8(b[5]))<<4 | int16(b[4]>>4),
		h6: int8(b[6]),
	}
}

func u16le(lo, hi byte) uint16 { return uint16(lo) | uint16(hi)<<8 }
func s16le(lo, hi byte) int16  { return int16(u16le(lo, hi)) }
