// Command videoengine is a minimal external-launcher stand-in: it builds
// a Config from environment variables and argv, then hands it to the
// engine supervisor. A real deployment's launcher (device provisioning,
// playlist management, watchdog) is out of scope (§1 Non-goals) — this
// is just enough wiring to exercise engine.Engine end to end.
package main

import (
	"context"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"

	"github.com/joho/godotenv"

	"videoengine/engine"
	"videoengine/internal/config"
)

func main() {
	runtime.LockOSThread()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Printf("videoengine: no .env file loaded: %v", err)
	}

	sources := sourcesFromArgs()
	if len(sources) == 0 {
		log.Fatal("videoengine: at least one media source required (argv or VIDEO_SOURCE_0/_1)")
	}

	cfg := config.New(sources)
	applyEnvOverrides(cfg)

	tuneMemory(cfg)

	e, err := engine.New(cfg, os.Getenv("DRM_DEVICE"))
	if err != nil {
		log.Fatalf("videoengine: %v", err)
	}

	code := e.Run(context.Background())
	log.Printf("videoengine: exiting with code %d (%s)", int(code), code)
	os.Exit(int(code))
}

// sourcesFromArgs takes media sources from argv if present, falling back
// to VIDEO_SOURCE_0/VIDEO_SOURCE_1 (§1: "1 or 2 media sources").
func sourcesFromArgs() []string {
	if len(os.Args) > 1 {
		return os.Args[1:]
	}
	var sources []string
	if s := os.Getenv("VIDEO_SOURCE_0"); s != "" {
		sources = append(sources, s)
	}
	if s := os.Getenv("VIDEO_SOURCE_1"); s != "" {
		sources = append(sources, s)
	}
	return sources
}

// applyEnvOverrides layers a handful of environment variables over the
// defaults config.New already applied (§6).
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("PREFER_HARDWARE"); v != "" {
		cfg.PreferHardware = v != "0" && v != "false"
	}
	if v := os.Getenv("MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MemoryLimitMB = n
		}
	}
	if v := os.Getenv("DECODE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DecodeTimeoutMS = n
		}
	}
}

// tuneMemory carries forward the teacher's GC/memlimit tuning for a
// memory-constrained embedded target, scaled to Config.MemoryLimitMB
// instead of a hardcoded 256MiB. GOMAXPROCS is deliberately left at its
// default (one OS thread per available core): the decode workers each
// need a dedicated pinned core (§5), which a GOMAXPROCS=1 cap would
// defeat outright.
func tuneMemory(cfg *config.Config) {
	debug.SetGCPercent(25)
	debug.SetMemoryLimit(int64(cfg.MemoryLimitMB) << 20)
}
