//go:build !linux

package tracer

import "context"

// Run is a no-op off Linux; kernel tracing needs eBPF support.
func (t *Tracer) Run(_ context.Context) error {
	t.logger.Info("kernel tracer unavailable on this platform")
	return nil
}
