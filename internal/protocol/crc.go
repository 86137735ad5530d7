package protocol

// crc16Poly is the reflected CRC-16/MODBUS polynomial used by the DP100.
const crc16Poly uint16 = 0xA001

// CRC16 computes the CRC-16/MODBUS checksum (init 0xFFFF, poly 0xA001)
// over data. The device transmits it little-endian after the payload.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crc16Poly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
