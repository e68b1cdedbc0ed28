// Package privilege implements C9: privilege drop with capability
// retention, grounded on the original source's system/user.rs and
// system/capability.rs modules (setgid/setuid plus PR_SET_KEEPCAPS and
// capset(2)), adapted to golang.org/x/sys/unix since no capability library
// appears anywhere in the reference pack (see DESIGN.md).
package privilege

import (
	"fmt"
	"os/user"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"

	"netevd/internal/logging"
)

var log = logging.WithComponent("privilege")

// capNetAdmin is CAP_NET_ADMIN's bit position in the Linux capability ABI.
const capNetAdmin = 12

// capUserHeader and capUserData mirror the capset(2)/capget(2) kernel ABI
// (struct __user_cap_header_struct / __user_cap_data_struct, version 3).
type capUserHeader struct {
	version uint32
	pid     int32
}

type capUserData struct {
	effective   uint32
	permitted   uint32
	inheritable uint32
}

const linuxCapabilityVersion3 = 0x20080522

// IsRoot reports whether the effective UID is 0.
func IsRoot() bool {
	return unix.Geteuid() == 0
}

// Drop implements spec §4.9's capability-retention privilege drop: enable
// keep-caps, setgid, setuid, clear keep-caps, then apply CAP_NET_ADMIN in
// the permitted and effective sets only (never inheritable, so scripts
// never gain it). Any step out of order either keeps the root identity or
// loses the capability (design note §9). A non-root process is not dropped;
// Verify checks it for CAP_NET_ADMIN separately and only warns when the
// capability is missing.
func Drop(username string) error {
	if !IsRoot() {
		log.Warn("not running as root, skipping privilege drop", "user", username)
		return nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid for %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid for %q: %w", username, err)
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("enable keep-caps: %w", err)
	}

	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}

	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("clear keep-caps: %w", err)
	}

	if err := applyNetAdmin(); err != nil {
		return fmt.Errorf("apply CAP_NET_ADMIN: %w", err)
	}

	if IsRoot() {
		return fmt.Errorf("still running as root after privilege drop")
	}

	log.Info("dropped privileges", "user", username, "uid", uid, "gid", gid)
	log.Audit("privilege-drop", username, map[string]any{"uid": uid, "gid": gid})
	return nil
}

// applyNetAdmin sets CAP_NET_ADMIN in the permitted and effective sets via
// capset(2), leaving inheritable empty so forked scripts never receive it.
func applyNetAdmin() error {
	header := capUserHeader{version: linuxCapabilityVersion3, pid: 0}
	data := capUserData{
		effective:   1 << capNetAdmin,
		permitted:   1 << capNetAdmin,
		inheritable: 0,
	}

	_, _, errno := unix.Syscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data)),
		0)
	if errno != 0 {
		return errno
	}
	log.Audit("capability-acquire", "CAP_NET_ADMIN", nil)
	return nil
}

// Verify reads the effective capability set and fails if CAP_NET_ADMIN is
// absent (spec §4.9: fatal if verification fails after a root-started
// drop; a warning only when the process never ran as root).
func Verify(fatal bool) error {
	header := capUserHeader{version: linuxCapabilityVersion3, pid: 0}
	var data capUserData

	_, _, errno := unix.Syscall(unix.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data)),
		0)
	if errno != 0 {
		return errno
	}

	if data.effective&(1<<capNetAdmin) == 0 {
		if fatal {
			return fmt.Errorf("CAP_NET_ADMIN missing from effective set")
		}
		log.Warn("CAP_NET_ADMIN missing from effective set; network operations may fail")
		return nil
	}
	return nil
}
