package parser

import (
	"math"

	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// Tag identifies one record inside a position data payload
type Tag byte

const (
	TagVoltage     Tag = 1
	TagLatitude    Tag = 3
	TagLongitude   Tag = 4
	TagMotion      Tag = 5
	TagInputs      Tag = 6
	TagCellular    Tag = 8
	TagStatus      Tag = 9
	TagEngineHours Tag = 52
	TagOdometer    Tag = 53
	TagFuelLevel   Tag = 55
	TagCANFuel     Tag = 56
	TagRPM         Tag = 57
	TagEngineTemp  Tag = 58
	TagOBDSpeed    Tag = 59
	TagAxleFirst   Tag = 60
	TagAxleLast    Tag = 64
	TagThrottle    Tag = 69
	TagLevelFirst  Tag = 70
	TagLevelLast   Tag = 79
	TagHDOP        Tag = 151
)

const (
	tagRecordLength   = 5
	tagWideExtra      = 4
	inputModeDiscrete = 0x01
	voltageMissing    = 0xFFFF
	maxSignalLevel    = 31
	engineTempOffset  = 1000
)

// TagResult is what one tag record decodes to. Extra is the number of bytes
// the record occupies beyond the standard tag byte plus 4-byte value.
type TagResult struct {
	Attributes []types.Attribute
	Extra      int
}

func (r *TagResult) add(key types.AttributeKey, value types.Value) {
	r.Attributes = append(r.Attributes, types.Attribute{Key: key, Value: value})
}

func (r *TagResult) number(key types.AttributeKey, v float64) {
	r.add(key, types.Number(v))
}

func (r *TagResult) flag(key types.AttributeKey, v bool) {
	r.add(key, types.Bool(v))
}

// extraBytes returns how many bytes follow the 4-byte value of a tag.
// Tag 53, tags 55..64 and tags 69..79 carry a second 4-byte word that is
// skipped. Tags 65..68 are unassigned and carry nothing extra.
func extraBytes(tag Tag) int {
	switch {
	case tag == TagOdometer,
		tag >= TagFuelLevel && tag <= TagAxleLast,
		tag >= TagThrottle && tag <= TagLevelLast:
		return tagWideExtra
	}
	return 0
}

// DecodeTag interprets one tag record value. raw is the 4-byte little-endian
// value that follows the tag byte. Unknown tags decode to nothing.
func DecodeTag(tag byte, raw uint32) TagResult {
	t := Tag(tag)
	res := TagResult{Extra: extraBytes(t)}
	signed := int32(raw)

	switch {
	case t == TagVoltage:
		decodeVoltage(&res, raw)
	case t == TagLatitude:
		if v, ok := coordinate(raw, 90); ok {
			res.number(types.KeyLatitude, v)
		}
	case t == TagLongitude:
		if v, ok := coordinate(raw, 180); ok {
			res.number(types.KeyLongitude, v)
		}
	case t == TagMotion:
		decodeMotion(&res, raw)
	case t == TagInputs:
		decodeInputs(&res, raw)
	case t == TagCellular:
		signal := raw & 0xFF
		if signal <= maxSignalLevel {
			res.number(types.KeyRSSI, float64(signal))
		}
		res.number(types.KeyMCC, float64((raw>>8)&0xFFFF))
		res.number(types.KeyMNC, float64(raw>>24))
	case t == TagStatus:
		res.number(types.KeyPower, float64(raw>>24)*150/1000.0)
		res.number(types.KeyStatus, float64(signed))
	case t == TagEngineHours:
		res.number(types.KeyEngineHours, float64(signed)/100.0)
	case t == TagOdometer:
		res.number(types.KeyOdometer, float64(signed)/100.0*1000)
	case t == TagFuelLevel:
		res.number(types.KeyFuelLevel, float64(signed)/10.0)
	case t == TagCANFuel:
		res.number(types.KeyCANFuel, float64(signed)/10.0)
	case t == TagRPM:
		res.number(types.KeyRPM, float64(signed))
	case t == TagEngineTemp:
		temp := float64(signed)
		if temp > engineTempOffset {
			temp = -(temp - engineTempOffset)
		}
		res.number(types.KeyEngineTemp, temp)
	case t == TagOBDSpeed:
		res.number(types.KeyOBDSpeed, float64(signed))
	case t >= TagAxleFirst && t <= TagAxleLast:
		res.number(types.AxleWeightKey(int(t-TagOBDSpeed)), float64(signed))
	case t == TagThrottle:
		res.number(types.KeyThrottle, float64(raw&0xFF))
		res.number(types.KeyEngineLoad, float64((raw>>8)&0xFF))
	case t >= TagLevelFirst && t <= TagLevelLast:
		index := int(t - TagThrottle)
		res.number(types.FuelKey(index), float64(raw&0xFFFF))
		res.number(types.TempKey(index), float64(raw>>16))
	case t == TagHDOP:
		res.number(types.KeyHDOP, float64(raw&0xFFFF)/100.0)
	}

	return res
}

func decodeVoltage(res *TagResult, raw uint32) {
	external := raw >> 16
	internal := raw & 0xFFFF
	if external != voltageMissing && external != 0 {
		res.number(types.KeyPower, float64(external)/1000.0)
	}
	if internal != voltageMissing && internal != 0 {
		res.number(types.KeyBattery, float64(internal)/1000.0)
	}
}

// coordinate reads raw as IEEE-754 single precision bits. NaN fails the
// range check and is dropped like any other out-of-range value.
func coordinate(raw uint32, bound float64) (float64, bool) {
	v := float64(math.Float32frombits(raw))
	if v >= -bound && v <= bound {
		return v, true
	}
	return 0, false
}

func decodeMotion(res *TagResult, raw uint32) {
	speed := raw >> 24
	sats := (raw >> 16) & 0xFF
	altitude := (raw >> 8) & 0xFF
	course := raw & 0xFF

	res.number(types.KeySpeed, float64(speed))
	res.number(types.KeyAltitude, float64(altitude)*10.0)
	res.number(types.KeyCourse, float64(course)*2.0)
	res.number(types.KeySatellites, float64(sats&0x0F+sats>>4))
}

func decodeInputs(res *TagResult, raw uint32) {
	mode := raw & 0xFF
	selector := (raw >> 8) & 0xFF
	value := raw >> 16

	if mode == inputModeDiscrete {
		// selector is the virtual sensor mask, value the IN1..IN16 mask
		res.flag(types.KeyVirtualIgnition, selector&0x01 != 0)
		for i := 0; i < types.MaxInputs; i++ {
			res.flag(types.InputKey(i+1), value&(1<<i) != 0)
		}
		return
	}

	input := int(selector) + 1
	res.number(types.PinModeKey(input), float64(mode))
	res.number(types.PinValueKey(input), float64(value))
}
