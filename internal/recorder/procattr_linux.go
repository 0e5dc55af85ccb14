package recorder

import "syscall"

// sysProcAttr puts the recorder in its own process group so a terminal
// Ctrl-C reaches the daemon only. Pdeathsig stops the recorder when the
// daemon dies without running its shutdown path.
//
// Pdeathsig is tied to the forking OS thread, not the process. The runtime
// only retires a thread when a goroutine exits while holding
// runtime.LockOSThread, which nothing here does; code that starts recorders
// must not run on such a goroutine.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
