package catalog

func level(v int) *int { return &v }

// defaultCatalog is built once at process start and never mutated.
var defaultCatalog = New(
	Spec{
		ID:            "temperature_2m",
		ShortNames:    []string{"TMP", "t", "unknown"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(2),
		FallbackHints: []string{"2 metre temperature", "temperature: k", "2 m above ground"},
	},
	Spec{
		ID:            "surface_pressure",
		ShortNames:    []string{"PRES", "mslma", "PRMSL", "prmsl"},
		TypeOfLevel:   []string{"surface", "meanSea"},
		Level:         level(0),
		FallbackHints: []string{"surface pressure", "mslp", "mean sea"},
	},
	Spec{
		ID:            "u_component_wind_80m",
		ShortNames:    []string{"u", "UGRD"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(80),
		FallbackHints: []string{" 80 m", "80 metre", "u component of wind"},
	},
	Spec{
		ID:            "v_component_wind_80m",
		ShortNames:    []string{"v", "VGRD"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(80),
		FallbackHints: []string{" 80 m", "80 metre", "v component of wind"},
	},
	Spec{
		ID:            "u_component_wind_10m",
		ShortNames:    []string{"u", "UGRD", "10u", "unknown"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(10),
		FallbackHints: []string{"10 metre u wind component", "10 m above ground", "u component of wind"},
	},
	Spec{
		ID:            "v_component_wind_10m",
		ShortNames:    []string{"v", "VGRD", "10v", "unknown"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(10),
		FallbackHints: []string{"10 metre v wind component", "10 m above ground", "v component of wind"},
	},
	Spec{
		ID:            "dewpoint_2m",
		ShortNames:    []string{"DPT", "dpt", "unknown"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(2),
		FallbackHints: []string{"2 metre dewpoint", "dewpoint temperature", "dew point", "2 m above ground"},
	},
	Spec{
		ID:            "relative_humidity_2m",
		ShortNames:    []string{"RH", "r", "unknown"},
		TypeOfLevel:   []string{"heightAboveGround"},
		Level:         level(2),
		FallbackHints: []string{"2 metre relative humidity", "relative humidity", "2 m above ground"},
	},
	Spec{
		ID:            "surface_roughness",
		ShortNames:    []string{"SFCR", "fricv", "unknown"},
		TypeOfLevel:   []string{"surface"},
		Level:         level(0),
		FallbackHints: []string{"surface roughness", "sfcr:surface"},
	},
	Spec{
		ID:            "visible_beam_downward_solar_flux",
		ShortNames:    []string{"VBDSF", "vbdsf", "unknown"},
		TypeOfLevel:   []string{"surface"},
		Level:         level(0),
		FallbackHints: []string{"visible beam downward solar flux", "vbdsf:surface"},
	},
	Spec{
		ID:            "visible_diffuse_downward_solar_flux",
		ShortNames:    []string{"VDDSF", "vddsf", "unknown"},
		TypeOfLevel:   []string{"surface"},
		Level:         level(0),
		FallbackHints: []string{"visible diffuse downward solar flux", "vddsf:surface"},
	},
)

// Default returns the HRRR surface variable catalog.
func Default() *Catalog {
	return defaultCatalog
}
