// Package avcore is the library-level entry point: process-global setup
// and teardown for the decode-and-synchronize pipeline core, carried
// forward from the original's init(flags)/deinit() pair. Every other
// package in this module is safe to use without calling Init first — it
// exists for hosts that want SDL_kitchensink-style explicit subsystem
// selection and a single place to hook startup logging — but nothing here
// is a hard dependency the rest of the pipeline reaches into.
package avcore

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/arvetica/avcore/lasterror"
)

// InitFlags selects which subsystems Init prepares, mirroring the
// original's bitmask-of-subsystems convention.
type InitFlags uint32

// Recognized subsystems. A host that only plays silent video, say, can
// pass InitVideo alone.
const (
	InitVideo InitFlags = 1 << iota
	InitAudio
	InitSubtitles
)

// InitEverything requests every subsystem; it is also what Init defaults
// to when called with a zero Flags value.
const InitEverything = InitVideo | InitAudio | InitSubtitles

const knownFlags = InitVideo | InitAudio | InitSubtitles

// Options configures Init.
type Options struct {
	Flags InitFlags
	// Log receives a startup line on successful Init. If nil, slog.Default
	// is used.
	Log *slog.Logger
}

var (
	mu        sync.Mutex
	once      = new(sync.Once)
	flags     InitFlags
	startedOk bool
	initErr   error
)

// Init performs process-global setup for the subsystems named in
// opts.Flags (InitEverything if zero), guarded so a second call before a
// matching Deinit is a no-op — the same shape as the teacher's
// oto-context singleton (otoOnce/initOto) and the RTMP server's
// logger.Init sync.Once. Concurrent callers all block on the first
// caller's work and observe its result.
func Init(opts Options) error {
	mu.Lock()
	o := once
	mu.Unlock()

	o.Do(func() {
		requested := opts.Flags
		if requested == 0 {
			requested = InitEverything
		}
		if requested&^knownFlags != 0 {
			err := fmt.Errorf("avcore: unknown init flags 0x%X", requested&^knownFlags)
			lasterror.Set("avcore: init: %v", err)
			mu.Lock()
			initErr = err
			mu.Unlock()
			return
		}

		log := opts.Log
		if log == nil {
			log = slog.Default()
		}

		mu.Lock()
		flags = requested
		startedOk = true
		initErr = nil
		mu.Unlock()

		log.Info("avcore: initialized", "flags", requested)
	})
	mu.Lock()
	defer mu.Unlock()
	return initErr
}

// Initialized reports whether Init has completed successfully and Deinit
// has not since been called.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return startedOk
}

// Flags returns the subsystems requested by the most recent successful
// Init, or 0 if Init has not been called (or Deinit has run since).
func Flags() InitFlags {
	mu.Lock()
	defer mu.Unlock()
	return flags
}

// Deinit tears down process-global state, clearing the way for a later
// Init call (e.g. in test teardown between scenarios). It is safe to call
// even if Init was never called or already failed.
func Deinit() {
	mu.Lock()
	defer mu.Unlock()
	flags = 0
	startedOk = false
	once = new(sync.Once)
}
