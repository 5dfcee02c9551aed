// services/hal/workers_api.go
package hal

import "context"

// MeasurementWorker is the narrow contract the service relies on.
type MeasurementWorker interface {
	Submit(MeasureReq) bool
	Start(ctx context.Context)
	Results() <-chan Result
}

// NewMeasurementWorker adapts the concrete constructor to the interface.
// Keeps call sites stable now and after we relocate the worker.
func NewMeasurementWorker(cfg WorkerConfig) MeasurementWorker {
	return NewWorker(cfg)
}
