package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgPico = `{
  "hal": {
    "version": 1,
    "buses": [
      {"id": "i2c0", "type": "i2c", "params": {"freq_hz": 400000}}
    ],
    "devices": [
      {
        "id": "bme280-0",
        "type": "bme280",
        "bus_ref": {"id": "i2c0", "type": "i2c"},
        "params": {"addr": 118, "mode": "forced", "period_ms": 2000, "os_temp": 2, "os_press": 16, "os_hum": 1}
      }
    ]
  },
  "bridge": {
    "transport": {
      "type": "uart",
      "uart": {"baud": 115200, "tx_pin": 0, "rx_pin": 1}
    }
  },
  "heartbeat": {
    "interval": 2
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico": []byte(cfgPico),
}
