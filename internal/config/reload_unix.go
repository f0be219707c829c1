//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler reloads on SIGHUP until Stop is called. Operators
// use it after editing the file on filesystems where fsnotify is unreliable
// (bind mounts, NFS).
func (r *Reloader) registerSignalHandler() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-r.stopCh:
				return
			case <-hup:
				if !r.Reload() {
					r.logger.Warn("SIGHUP reload rejected", "path", r.path)
				}
			}
		}
	}()

	r.logger.Info("reload on SIGHUP enabled", "pid", os.Getpid())
}
