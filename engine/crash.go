package engine

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// installCrashHandler arms a handler for SIGSEGV/SIGBUS/SIGABRT (§4.8):
// these typically originate from the cgo GPU/DRM/decoder paths rather
// than from Go code, so the OS still delivers them through the normal
// signal mechanism. The handler restores the CRTC, then resets the
// signal's disposition to default and re-raises it so the process still
// terminates (and still produces a core dump) the way it would without
// this handler installed.
func (e *Engine) installCrashHandler() {
	crashes := make(chan os.Signal, 1)
	signal.Notify(crashes, syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGABRT)

	go func() {
		sig := <-crashes
		log.Printf("engine: fatal signal %v, restoring display before re-raising", sig)

		if e.target != nil {
			e.target.RestoreCRTC()
		}

		signal.Reset(sig)
		_ = syscall.Kill(os.Getpid(), sig.(syscall.Signal))
	}()
}
