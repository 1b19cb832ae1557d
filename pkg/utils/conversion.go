package utils

import (
	"encoding/binary"
	"math"
)

// Conversões big-endian usadas nos data blocks S7 (INT, DINT, REAL e BOOL)

// Float32ToBytes converte um REAL para 4 bytes (IEEE 754)
func Float32ToBytes(val float32) []byte {
	bytes := make([]byte, 4)
	binary.BigEndian.PutUint32(bytes, math.Float32bits(val))
	return bytes
}

// BytesToFloat32 converte 4 bytes (IEEE 754) para REAL
func BytesToFloat32(bytes []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(bytes))
}

// IntToBytes converte um DINT para 4 bytes
func IntToBytes(val int) []byte {
	bytes := make([]byte, 4)
	binary.BigEndian.PutUint32(bytes, uint32(int32(val)))
	return bytes
}

// BytesToInt converte 4 bytes para DINT, preservando o sinal
func BytesToInt(bytes []byte) int {
	return int(int32(binary.BigEndian.Uint32(bytes)))
}

// Int16ToBytes converte um INT para 2 bytes
func Int16ToBytes(val int16) []byte {
	bytes := make([]byte, 2)
	binary.BigEndian.PutUint16(bytes, uint16(val))
	return bytes
}

// BytesToInt16 converte 2 bytes para INT
func BytesToInt16(bytes []byte) int16 {
	return int16(binary.BigEndian.Uint16(bytes))
}

// GetBit lê o bit informado (0..7) de um byte
func GetBit(b byte, bit uint) bool {
	return b&(1<<(bit&7)) != 0
}

// SetBit retorna o byte com o bit informado ligado ou desligado
func SetBit(b byte, bit uint, value bool) byte {
	mask := byte(1 << (bit & 7))
	if value {
		return b | mask
	}
	return b &^ mask
}
