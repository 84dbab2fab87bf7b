package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AttributeKey names a telemetry attribute a position can carry
type AttributeKey string

// Core keys. The decoder reports these like any other attribute and the
// position assembler moves them into the dedicated Position fields.
const (
	KeyLatitude   AttributeKey = "latitude"
	KeyLongitude  AttributeKey = "longitude"
	KeySpeed      AttributeKey = "speed"
	KeyCourse     AttributeKey = "course"
	KeyAltitude   AttributeKey = "altitude"
	KeySatellites AttributeKey = "sat"
)

// Telemetry keys stored in Position.Attributes
const (
	KeyPower           AttributeKey = "power"
	KeyBattery         AttributeKey = "battery"
	KeyVirtualIgnition AttributeKey = "virtualIgnition"
	KeyRSSI            AttributeKey = "rssi"
	KeyMCC             AttributeKey = "mcc"
	KeyMNC             AttributeKey = "mnc"
	KeyStatus          AttributeKey = "status"
	KeyEngineHours     AttributeKey = "engineHours"
	KeyOdometer        AttributeKey = "odometer"
	KeyFuelLevel       AttributeKey = "fuelLevel"
	KeyCANFuel         AttributeKey = "canFuel"
	KeyRPM             AttributeKey = "rpm"
	KeyEngineTemp      AttributeKey = "engineTemp"
	KeyOBDSpeed        AttributeKey = "obdSpeed"
	KeyThrottle        AttributeKey = "throttle"
	KeyEngineLoad      AttributeKey = "engineLoad"
	KeyHDOP            AttributeKey = "hdop"
)

// Bounds of the indexed key families
const (
	MaxInputs     = 16
	MaxPinIndex   = 256
	MaxAxles      = 5
	MaxLevelGauge = 10
)

// IsCore reports whether the key maps to a dedicated Position field
func (k AttributeKey) IsCore() bool {
	switch k {
	case KeyLatitude, KeyLongitude, KeySpeed, KeyCourse, KeyAltitude, KeySatellites:
		return true
	}
	return false
}

func indexedKey(prefix string, index, max int) AttributeKey {
	if index < 1 || index > max {
		panic(fmt.Sprintf("types: %s index %d out of range 1..%d", prefix, index, max))
	}
	return AttributeKey(prefix + strconv.Itoa(index))
}

// InputKey returns the key of physical discrete input IN1..IN16
func InputKey(n int) AttributeKey { return indexedKey("in", n, MaxInputs) }

// PinModeKey returns the key holding the mode of a non-discrete input
func PinModeKey(n int) AttributeKey { return indexedKey("pinMode", n, MaxPinIndex) }

// PinValueKey returns the key holding the value of a non-discrete input
func PinValueKey(n int) AttributeKey { return indexedKey("pinValue", n, MaxPinIndex) }

// AxleWeightKey returns the key of CAN axle weight slot 1..5
func AxleWeightKey(n int) AttributeKey { return indexedKey("axleWeight", n, MaxAxles) }

// FuelKey returns the level key of liquid level sensor 1..10
func FuelKey(n int) AttributeKey { return indexedKey("fuel", n, MaxLevelGauge) }

// TempKey returns the temperature key of liquid level sensor 1..10
func TempKey(n int) AttributeKey { return indexedKey("temp", n, MaxLevelGauge) }

type valueKind uint8

const (
	kindNumber valueKind = iota + 1
	kindBool
)

// Value is a numeric or boolean attribute value
type Value struct {
	kind valueKind
	num  float64
	flag bool
}

// Number wraps a numeric value
func Number(v float64) Value { return Value{kind: kindNumber, num: v} }

// Bool wraps a boolean value
func Bool(v bool) Value { return Value{kind: kindBool, flag: v} }

// IsBool reports whether the value holds a boolean
func (v Value) IsBool() bool { return v.kind == kindBool }

// Float returns the numeric value; booleans map to 0 and 1
func (v Value) Float() float64 {
	if v.kind == kindBool {
		if v.flag {
			return 1
		}
		return 0
	}
	return v.num
}

// Bool returns the boolean value; numbers are true when non-zero
func (v Value) Bool() bool {
	if v.kind == kindBool {
		return v.flag
	}
	return v.num != 0
}

// Equal reports whether both values have the same kind and content
func (v Value) Equal(o Value) bool {
	return v == o
}

func (v Value) String() string {
	if v.kind == kindBool {
		return strconv.FormatBool(v.flag)
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes the value as a JSON number or boolean
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == kindBool {
		return json.Marshal(v.flag)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON decodes a JSON number or boolean
func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("attribute value must be a number or boolean: %w", err)
	}
	*v = Number(f)
	return nil
}

// Attribute is one decoded key/value pair
type Attribute struct {
	Key   AttributeKey
	Value Value
}

// Attributes holds the telemetry attributes of a position
type Attributes map[AttributeKey]Value

// Set stores a value, replacing any earlier one
func (a Attributes) Set(key AttributeKey, value Value) {
	a[key] = value
}

// Get returns the value stored for key
func (a Attributes) Get(key AttributeKey) (Value, bool) {
	v, ok := a[key]
	return v, ok
}
