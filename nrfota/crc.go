package nrfota

import "github.com/sigurn/crc16"

// Legacy DFU uses CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no
// reflection, no final xor) for bundle manifests and on-target validation.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 accumulates a CRC-16/CCITT-FALSE over streamed bytes.
type CRC16 struct {
	crc uint16
}

func NewCRC16() *CRC16 {
	return &CRC16{crc: crc16.Init(crcTable)}
}

// Write implements io.Writer and never fails.
func (c *CRC16) Write(p []byte) (n int, err error) {
	c.crc = crc16.Update(c.crc, p, crcTable)
	return len(p), nil
}

func (c *CRC16) Sum16() uint16 {
	return crc16.Complete(c.crc, crcTable)
}

// Checksum16 is the one-shot form.
func Checksum16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
