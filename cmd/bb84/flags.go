package main

import (
	flag "github.com/spf13/pflag"

	"github.com/alan-christopher/bb84chat/internal/config"
)

// applyUnset copies env's value into cfg for every setting whose flag was not
// given on the command line.
func applyUnset(fs *flag.FlagSet, cfg *config.Config, env config.Config) {
	unset := func(name string) bool {
		f := fs.Lookup(name)
		return f == nil || !f.Changed
	}
	if unset("addr") {
		cfg.Addr = env.Addr
	}
	if unset("session-ttl") {
		cfg.SessionTTL = env.SessionTTL
	}
	if unset("reap-interval") {
		cfg.ReapInterval = env.ReapInterval
	}
	if unset("max-length") {
		cfg.MaxLength = env.MaxLength
	}
	if unset("expose-key") {
		cfg.ExposeKey = env.ExposeKey
	}
	if unset("store-dir") {
		cfg.StoreDir = env.StoreDir
	}
	if unset("log-level") {
		cfg.LogLevel = env.LogLevel
	}
	if unset("random") {
		cfg.Random = env.Random
	}
}
