//go:build !windows

package daemon

import (
	"fmt"
	"syscall"
)

// IsRunning reports whether the recorded process is alive, along with its
// PID. A missing or unreadable PID file reads as not running.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	// kill(pid, 0) probes for existence without delivering a signal.
	err = syscall.Kill(pid, 0)
	return pid, err == nil
}

// Signal delivers sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return syscall.Kill(pid, sig)
}
