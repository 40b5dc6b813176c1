//go:build linux

package realtime

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// realtimePriority is a fixed SCHED_RR priority; best-effort per §4.D —
// loss of real-time scheduling is reported to the caller (Loop.Run logs
// it through Params.SchedWarning) and the loop continues at default
// priority.
const realtimePriority = 10

type schedParam struct {
	priority int32
}

func applyRealtimeScheduling() error {
	param := schedParam{priority: realtimePriority}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_RR), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}
