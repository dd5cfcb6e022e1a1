// Package environment holds drivers for temperature, humidity and light
// sensors built on busdevice.Device.
package environment

import (
	"context"
	"time"
)

type TemperatureSensor interface {
	GetTemperature(ctx context.Context) (float32, error)
}

type HumiditySensor interface {
	GetHumidity(ctx context.Context) (float32, error)
}

type LightSensor interface {
	GetLux(ctx context.Context) (int, error)
}

// wait pauses for a conversion to complete.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
