package protocol

import "testing"

func TestCRC16_TestVector(t *testing.T) {
	got := CRC16([]byte("123456789"))
	if got != 0x2189 {
		t.Fatalf("CRC16(\"123456789\") = %#04x, want 0x2189", got)
	}
}

func TestCRC16_IncrementalMatchesSingleShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := CRC16(data)

	for split := 0; split <= len(data); split++ {
		crc := CRC16Update(0, data[:split])
		crc = CRC16Update(crc, data[split:])
		if crc != want {
			t.Fatalf("split at %d: got %#04x want %#04x", split, crc, want)
		}
	}
}
