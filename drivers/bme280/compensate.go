package bme280

import "envsense-go/x/mathx"

// Measurements is one compensated sample.
type Measurements struct {
	Temperature float64 // °C
	Pressure    float64 // Pa; 0 when the channel is skipped or the formula guard trips
	Humidity    float64 // %RH, clamped to [0,100]; 0 when skipped
}

// rawSample carries the ADC words assembled from one 8-byte data burst.
type rawSample struct {
	pressure    uint32 // 20-bit
	temperature uint32 // 20-bit
	humidity    uint32 // 16-bit
}

// The compensation formulas below follow the manufacturer's double-precision
// reference implementation. The operation order is deliberate and must not
// be rearranged: the sensor's accuracy figures assume this exact evaluation,
// and t_fine (5120 counts per °C) is shared between all three channels.

// compensateTemperature returns the temperature in °C and the t_fine term
// consumed by the pressure and humidity formulas. t_fine is truncated to
// int32 before use, matching the reference's integer cast.
func (c *calibrationData) compensateTemperature(adcT int32) (float64, int32) {
	var1 := (float64(adcT)/16384.0 - float64(c.t1)/1024.0) * float64(c.t2)
	d := float64(adcT)/131072.0 - float64(c.t1)/8192.0
	var2 := d * d * float64(c.t3)
	tFine := int32(var1 + var2)
	return float64(tFine) / 5120.0, tFine
}

// compensatePressure returns the pressure in Pa. A collapsed denominator
// (var1 == 0) yields 0 rather than an error, per the reference.
func (c *calibrationData) compensatePressure(adcP int32, tFine int32) float64 {
	var1 := float64(tFine)/2.0 - 64000.0
	var2 := var1 * var1 * float64(c.p6) / 32768.0
	var2 = var2 + var1*float64(c.p5)*2.0
	var2 = var2/4.0 + float64(c.p4)*65536.0
	var1 = (float64(c.p3)*var1*var1/524288.0 + float64(c.p2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(c.p1)
	if var1 == 0 {
		return 0
	}
	p := 1048576.0 - float64(adcP)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(c.p9) * p * p / 2147483648.0
	var2 = p * float64(c.p8) / 32768.0
	return p + (var1+var2+float64(c.p7))/16.0
}

// compensateHumidity returns relative humidity in %, clamped to [0,100].
func (c *calibrationData) compensateHumidity(adcH int32, tFine int32) float64 {
	h := float64(tFine) - 76800.0
	h = (float64(adcH) - (float64(c.h4)*64.0 + float64(c.h5)/16384.0*h)) *
		(float64(c.h2) / 65536.0 * (1.0 + float64(c.h6)/67108864.0*h*(1.0+float64(c.h3)/67108864.0*h)))
	h = h * (1.0 - float64(c.h1)*h/524288.0)
	return mathx.Clamp(h, 0.0, 100.0)
}
