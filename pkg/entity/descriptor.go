package entity

// DeviceClass is the Home Assistant sensor device class.
type DeviceClass string

const (
	DeviceClassNone        DeviceClass = ""
	DeviceClassTemperature DeviceClass = "temperature"
	DeviceClassHumidity    DeviceClass = "humidity"
	DeviceClassIlluminance DeviceClass = "illuminance"
	DeviceClassTimestamp   DeviceClass = "timestamp"
)

// RequiresUnit reports whether sensors of this class are meaningless
// without a unit of measurement.
func (d DeviceClass) RequiresUnit() bool {
	switch d {
	case DeviceClassTemperature, DeviceClassHumidity, DeviceClassIlluminance:
		return true
	default:
		return false
	}
}

// Descriptor is the static presentation of one sensor type.
type Descriptor struct {
	Unit        string
	DeviceClass DeviceClass
	Icon        string
}

// Descriptors lists every sensor type that is exposed as an entity.
// Keys the API reports that are missing here are skipped.
var Descriptors = map[string]Descriptor{
	"temp":         {Unit: "°C", DeviceClass: DeviceClassTemperature},
	"temperature":  {Unit: "°C", DeviceClass: DeviceClassTemperature},
	"humidity":     {Unit: "%", DeviceClass: DeviceClassHumidity},
	"co2":          {Unit: "ppm", Icon: "mdi:molecule-co2"},
	"voc":          {Unit: "ppb", Icon: "mdi:air-filter"},
	"vocindex":     {Icon: "mdi:air-filter"},
	"illumination": {Unit: "lx", DeviceClass: DeviceClassIlluminance},
	"people":       {Unit: "persons", Icon: "mdi:account-group"},
	"timestamp":    {DeviceClass: DeviceClassTimestamp},
}

// Lookup returns the descriptor for a normalized sensor type key.
func Lookup(key string) (Descriptor, bool) {
	d, ok := Descriptors[key]
	return d, ok
}
