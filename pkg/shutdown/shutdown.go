package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"kitbridge/pkg/logger"
)

// Abort logs a fatal startup error, writes a crash dump into crashDir and
// exits with status 2 after delay seconds.
func Abort(contextMsg string, err error, crashDir string, delaySeconds ...int) {
	delay := 0
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	if crashDir != "" {
		dumpPath, derr := WriteCrashDump(crashDir, contextMsg, err)
		if derr != nil {
			logger.Error("crash_dump_failed", "error", derr)
			fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
		} else {
			logger.Error("startup_fatal_crashdump", "path", dumpPath)
			fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
		}
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", contextMsg, err)
	}
	for i := delay; i > 0; i-- {
		logger.Info("exiting_in_seconds", "seconds", i)
		time.Sleep(1 * time.Second)
	}
	os.Exit(2)
}

// WriteCrashDump writes reason, err and all goroutine stacks to a new file
// in dir and returns its path.
func WriteCrashDump(dir, reason string, err error) (string, error) {
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", e)
	}

	f, ferr := os.CreateTemp(dir, ".crash-*.tmp")
	if ferr != nil {
		return "", fmt.Errorf("failed to create temp crash file: %w", ferr)
	}
	// ensure temp removed if we fail
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "pid: %d\n", os.Getpid())
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	if cerr := f.Close(); cerr != nil {
		return "", cerr
	}

	dumpPath := filepath.Join(dir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", fmt.Errorf("failed to move crash dump into place: %w", err)
	}
	_ = os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM. Use
// the cancel function to stop watching and to release resources.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			logger.Info("signal_received", "msg", "shutdown requested")
		}
	}()
	return ctx, stop
}

// ShutdownServer stops srv from accepting connections and waits up to
// timeout for open ones to finish. Streams still running after timeout are
// cut off when the process exits.
func ShutdownServer(srv *fasthttp.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.ShutdownWithContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("shutdown_timeout", "timeout", timeout.String())
	}
	return err
}
