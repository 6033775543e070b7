package fdmgr

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestGetClassifiesSocket(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(fd)

	m := NewManager()
	c, ok := m.Get(fd, true)
	if !ok {
		t.Fatal("Get did not create a context")
	}
	if !c.IsSocket() {
		t.Fatal("socket fd not classified as a socket")
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("fcntl: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("socket was not forced non-blocking at the OS level")
	}
}

func TestGetWithoutAutoCreateMissesOutOfRange(t *testing.T) {
	m := NewManager()
	if _, ok := m.Get(1000, false); ok {
		t.Fatal("Get(autoCreate=false) should miss for an untouched fd")
	}
}

func TestUserNonblockIndependentOfSysNonblock(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(fd)

	m := NewManager()
	c, _ := m.Get(fd, true)
	if c.UserNonblock() {
		t.Fatal("UserNonblock should default to false")
	}
	c.SetUserNonblock(true)
	if !c.UserNonblock() {
		t.Fatal("SetUserNonblock(true) did not stick")
	}

	flags, _ := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("OS-level non-blocking flag should remain set regardless of user flag")
	}
}

func TestTimeoutRoundTrip(t *testing.T) {
	m := NewManager()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(fd)

	c, _ := m.Get(fd, true)
	if c.Timeout(Recv) != NoTimeout {
		t.Fatalf("default recv timeout = %d, want NoTimeout", c.Timeout(Recv))
	}
	c.SetTimeout(Recv, 500)
	c.SetTimeout(Send, 1000)
	if c.Timeout(Recv) != 500 {
		t.Fatalf("recv timeout = %d, want 500", c.Timeout(Recv))
	}
	if c.Timeout(Send) != 1000 {
		t.Fatalf("send timeout = %d, want 1000", c.Timeout(Send))
	}
}

func TestCloseMarksClosedAndFreesSlot(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(fd)

	m := NewManager()
	c, _ := m.Get(fd, true)
	m.Close(fd)
	if !c.IsClosed() {
		t.Fatal("Ctx should be marked closed")
	}
	if _, ok := m.Get(fd, false); ok {
		t.Fatal("slot should be freed after Close")
	}
}
