package capability

// Capability IDs exposed to drivers.
const (
	MeasureTemperature  = "measure_temperature"
	MeasureHumidity     = "measure_humidity"
	MeasureCO2          = "measure_co2"
	MeasurePressure     = "measure_pressure"
	MeasureNoise        = "measure_noise"
	MeasureRain         = "measure_rain"
	MeasureWindStrength = "measure_wind_strength"
	MeasureWindAngle    = "measure_wind_angle"
	MeasureGustStrength = "measure_gust_strength"
	MeasureGustAngle    = "measure_gust_angle"
	TargetTemperature   = "target_temperature"
	ThermostatMode      = "thermostat_mode"
	ProgramList         = "program_list"
)

func dashboard(id, field string) Descriptor {
	return Descriptor{ID: id, Path: "dashboard_data." + field, Kind: KindNumber}
}

// BuiltinTable returns the mapping table for the weather station and
// thermostat product lines.
func BuiltinTable() map[TypeTag][]Descriptor {
	return map[TypeTag][]Descriptor{
		TypeStation: {
			dashboard(MeasureTemperature, "Temperature"),
			dashboard(MeasureHumidity, "Humidity"),
			dashboard(MeasureCO2, "CO2"),
			dashboard(MeasurePressure, "Pressure"),
			dashboard(MeasureNoise, "Noise"),
		},
		TypeOutdoor: {
			dashboard(MeasureTemperature, "Temperature"),
			dashboard(MeasureHumidity, "Humidity"),
		},
		TypeWind: {
			dashboard(MeasureWindStrength, "WindStrength"),
			dashboard(MeasureWindAngle, "WindAngle"),
			dashboard(MeasureGustStrength, "GustStrength"),
			dashboard(MeasureGustAngle, "GustAngle"),
		},
		TypeRain: {
			dashboard(MeasureRain, "Rain"),
		},
		TypeIndoor: {
			dashboard(MeasureTemperature, "Temperature"),
			dashboard(MeasureHumidity, "Humidity"),
			dashboard(MeasureCO2, "CO2"),
		},
		TypeThermostat: {
			{ID: MeasureTemperature, Path: "measured.temperature", Kind: KindNumber},
			{ID: TargetTemperature, Path: "measured.setpoint_temp", Kind: KindNumber, Writable: true},
			{
				ID:       ThermostatMode,
				Path:     "setpoint.setpoint_mode",
				Kind:     KindEnum,
				Writable: true,
				Values:   []string{ModeProgram, ModeAway, ModeFrost, ModeManual, ModeOff, ModeMax},
			},
			{ID: ProgramList, Path: "therm_program_list", Kind: KindSchedule, Writable: true},
		},
		TypeRelay: {},
	}
}

// Default returns a Registry over BuiltinTable. It panics if the built-in
// table is invalid, which is a programming error caught by tests.
func Default() *Registry {
	r, err := NewRegistry(BuiltinTable())
	if err != nil {
		panic(err)
	}
	return r
}
