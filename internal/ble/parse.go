package ble

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Beacon payload (little-endian manufacturer data): magic 0x01 0xD0,
// reading_id uint32, temperature float32, pressure float32, humidity float32.
const (
	payloadMagic0 = 0x01
	payloadMagic1 = 0xD0
	payloadLen    = 18
)

// MagicPrefix is the manufacturer data prefix used to filter scans.
var MagicPrefix = []byte{payloadMagic0, payloadMagic1}

// Reading is one decoded beacon advertisement.
type Reading struct {
	ID          uint32
	Temperature float64 // °C
	Pressure    float64 // hPa
	Humidity    float64 // %
}

// values returns the reading in published key order.
func (r Reading) values() []any {
	return []any{r.Temperature, r.Pressure, r.Humidity, int64(r.ID)}
}

// Parse decodes beacon manufacturer data. Longer payloads are accepted,
// trailing bytes are ignored.
func Parse(data []byte) (Reading, error) {
	if len(data) < payloadLen {
		return Reading{}, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	if data[0] != payloadMagic0 || data[1] != payloadMagic1 {
		return Reading{}, fmt.Errorf("invalid magic: % X", data[:2])
	}
	f32 := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4])))
	}
	return Reading{
		ID:          binary.LittleEndian.Uint32(data[2:6]),
		Temperature: f32(6),
		Pressure:    f32(10),
		Humidity:    f32(14),
	}, nil
}
