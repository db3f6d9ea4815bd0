package capability

// Kind is the value type a capability carries.
type Kind string

// Capability kinds.
const (
	KindNumber   Kind = "number"
	KindEnum     Kind = "enum"
	KindSchedule Kind = "schedule"
)

// TypeTag identifies a Netatmo module or device type as reported in the
// "type" field of station and thermostat payloads.
type TypeTag string

// Module type tags known to the mapping table.
const (
	TypeStation    TypeTag = "NAMain"    // indoor base station
	TypeOutdoor    TypeTag = "NAModule1" // outdoor module
	TypeWind       TypeTag = "NAModule2" // wind gauge
	TypeRain       TypeTag = "NAModule3" // rain gauge
	TypeIndoor     TypeTag = "NAModule4" // additional indoor module
	TypeThermostat TypeTag = "NATherm1"  // thermostat valve
	TypeRelay      TypeTag = "NAPlug"    // thermostat relay, no capabilities of its own
)

// knownTags is the closed set of tags a Registry may be built from.
var knownTags = map[TypeTag]bool{
	TypeStation:    true,
	TypeOutdoor:    true,
	TypeWind:       true,
	TypeRain:       true,
	TypeIndoor:     true,
	TypeThermostat: true,
	TypeRelay:      true,
}

// Known reports whether tag belongs to the closed set of module types.
func Known(tag TypeTag) bool {
	return knownTags[tag]
}

// Descriptor declares one capability of a module type and where its value
// lives in the vendor payload.
type Descriptor struct {
	// ID is the normalized capability name, e.g. "measure_temperature".
	ID string `json:"id"`

	// Path is a dotted path into the module payload, e.g. "dashboard_data.Temperature".
	Path string `json:"path"`

	Kind Kind `json:"kind"`

	// Writable capabilities accept a value from the driver-facing Set.
	Writable bool `json:"writable,omitempty"`

	// Values restricts an enum capability to a fixed set of strings.
	Values []string `json:"values,omitempty"`
}

// Program is one entry of a thermostat schedule list.
type Program struct {
	ID       string `json:"program_id"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

// Thermostat setpoint modes accepted by the cloud API.
const (
	ModeProgram = "program"
	ModeAway    = "away"
	ModeFrost   = "hg"
	ModeManual  = "manual"
	ModeOff     = "off"
	ModeMax     = "max"
)
