package hal

// Wire shape of the retained hal config document. Bus wiring (pins, pull-ups)
// belongs to the platform factory, so only the identifiers and tunables the
// service itself consults are decoded here.

type HALConfig struct {
	Version int      `json:"version"`
	Buses   []BusCfg `json:"buses"`
	Devices []DevCfg `json:"devices"`
}

type BusCfg struct {
	ID     string `json:"id"`   // "i2c0"
	Type   string `json:"type"` // "i2c"
	Params struct {
		FreqHz int `json:"freq_hz"`
	} `json:"params"`
}

type DevCfg struct {
	ID     string    `json:"id"`   // "bme280-0"
	Type   string    `json:"type"` // "bme280"
	BusRef DevBusRef `json:"bus_ref"`
	Params any       `json:"params,omitempty"` // device-specific shape; may be a map or struct
}

type DevBusRef struct{ ID, Type string }
