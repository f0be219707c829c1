//go:build windows

package config

// registerSignalHandler does nothing on Windows, which has no SIGHUP; the
// file watcher still picks up edits.
func (r *Reloader) registerSignalHandler() {
	r.logger.Debug("SIGHUP reload unavailable on windows", "path", r.path)
}
