package app

import (
	"context"
	"time"

	"kitbridge/pkg/logger"
	"kitbridge/pkg/shutdown"
	"kitbridge/pkg/telemetry"
)

// Shutdown stops accepting requests, waits for in-flight ones within the
// configured timeout or ctx, whichever ends first, then cancels what is
// left and releases background workers.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	a.ready.Store(false)

	var err error
	if a.srvFast != nil {
		timeout := a.eff.Config.Server.ShutdownTimeout.Duration()
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < timeout || timeout <= 0 {
				timeout = left
			}
		}
		err = shutdown.ShutdownServer(a.srvFast, timeout)
	}
	a.baseCancel()
	a.gw.Close()
	if a.retention != nil {
		a.retention.Stop()
	}
	telemetry.Close()

	if err == nil {
		a.state = "stopped"
		logger.Info("server_stopped")
	}
	return err
}
