// Package xlog provides module-aware, verbosity-gated logging, reproducing
// the call shape of the teacher's glog wrapper (glog.Infof, glog.FastV(n,
// module)) on top of logrus, since the real glog fork the teacher vendors
// is not a fetchable module in this pack.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package xlog

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Module names, mirroring the teacher's glog.Smodule* constants, used to
// gate per-subsystem verbose logging independently.
const (
	SmodulePool       = "pool"
	SmoduleRegmap     = "regmap"
	SmoduleResource   = "resource"
	SmoduleInterleave = "interleave"
	SmoduleCopyEngine = "copyengine"
	SmoduleATL        = "atl"
	SmoduleProgress   = "progress"
	SmoduleBackup     = "backup"
	SmoduleRPC        = "rpc"
	SmoduleServer     = "server"
)

var (
	logger  = logrus.New()
	verbose int32 // global default verbosity, overridable per module below
)

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutputJSON switches the backing logrus formatter to JSON, for
// deployments that ship logs to a collector rather than a terminal.
func SetOutputJSON() { logger.SetFormatter(&logrus.JSONFormatter{}) }

// SetVerbosity sets the global default verbosity threshold used by V(n).
func SetVerbosity(v int32) { atomic.StoreInt32(&verbose, v) }

// Infof logs at info level, matching glog.Infof's call shape.
func Infof(format string, args ...interface{}) { logger.Infof(format, args...) }

// Warningf logs at warn level.
func Warningf(format string, args ...interface{}) { logger.Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) { logger.Errorf(format, args...) }

// Infoln logs at info level, space-separated, matching glog.Infoln.
func Infoln(args ...interface{}) { logger.Infoln(args...) }

// Errorln logs at error level, space-separated.
func Errorln(args ...interface{}) { logger.Errorln(args...) }

// Level gates verbose logging by threshold, mirroring glog.V(n).
type Level bool

// V reports whether logging at verbosity level v is enabled given the
// current global threshold.
func V(v int32) Level {
	return Level(atomic.LoadInt32(&verbose) >= v)
}

func (l Level) Infof(format string, args ...interface{}) {
	if l {
		logger.Infof(format, args...)
	}
}

func (l Level) Infoln(args ...interface{}) {
	if l {
		logger.Infoln(args...)
	}
}

// moduleVerbosity holds a per-module override of the global threshold.
var moduleVerbosity sync.Map // map[string]int32

// SetModuleVerbosity overrides the verbosity threshold for one module,
// e.g. SetModuleVerbosity(SmoduleATL, 4).
func SetModuleVerbosity(module string, v int32) {
	moduleVerbosity.Store(module, v)
}

// FastV reports whether logging at verbosity v is enabled for module,
// checking the per-module override first and falling back to the global
// threshold — matching glog.FastV(v, module)'s gating in the teacher's
// transport.collector.do() hot path.
func FastV(v int32, module string) bool {
	if raw, ok := moduleVerbosity.Load(module); ok {
		return raw.(int32) >= v
	}
	return atomic.LoadInt32(&verbose) >= v
}
