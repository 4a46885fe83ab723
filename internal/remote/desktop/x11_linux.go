//go:build linux

package desktop

import (
	"fmt"
	"image"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xproto"
	"golang.org/x/sys/unix"
)

func init() {
	registerStrategy(Strategy{
		Name:      "x11-shm",
		Priority:  10,
		Available: x11ShmAvailable,
		Bind:      bindX11Shm,
	})
	registerStrategy(Strategy{
		Name:      "x11-getimage",
		Priority:  20,
		Available: x11Available,
		Bind:      bindX11GetImage,
	})
}

// openX11 connects to $DISPLAY and returns the default screen.
func openX11() (*xgb.Conn, *xproto.ScreenInfo, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to X server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen == nil {
		conn.Close()
		return nil, nil, fmt.Errorf("X server has no default screen")
	}
	return conn, screen, nil
}

func x11Available() error {
	conn, _, err := openX11()
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func x11ShmAvailable() error {
	conn, _, err := openX11()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := shm.Init(conn); err != nil {
		return fmt.Errorf("MIT-SHM extension: %w", err)
	}
	return nil
}

// checkRootBounds validates that the device lies inside the X root window.
func checkRootBounds(screen *xproto.ScreenInfo, dev ScreenDevice) error {
	root := image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))
	if b := dev.EffectiveBounds(); !b.In(root) {
		return fmt.Errorf("device bounds %v outside X root %v", b, root)
	}
	return nil
}

func checkDepth(depth byte) error {
	if depth != 24 && depth != 32 {
		return fmt.Errorf("unsupported X visual depth %d", depth)
	}
	return nil
}

// x11GetImage reads bounds from the root window with a core GetImage request.
func x11GetImage(conn *xgb.Conn, root xproto.Window, dst []uint32, bounds image.Rectangle) error {
	w, h := bounds.Dx(), bounds.Dy()
	reply, err := xproto.GetImage(conn, xproto.ImageFormatZPixmap, xproto.Drawable(root),
		int16(bounds.Min.X), int16(bounds.Min.Y), uint16(w), uint16(h), 0xffffffff).Reply()
	if err != nil {
		return fmt.Errorf("GetImage: %w", err)
	}
	if err := checkDepth(reply.Depth); err != nil {
		return err
	}
	if len(reply.Data) < w*h*4 {
		return fmt.Errorf("GetImage returned %d bytes, want %d", len(reply.Data), w*h*4)
	}
	bgraToARGB(dst, reply.Data, w, h, w*4)
	return nil
}

// x11Reader reads with core GetImage requests.
type x11Reader struct {
	mu   sync.Mutex
	conn *xgb.Conn
	root xproto.Window
}

func bindX11GetImage(dev ScreenDevice) (PixelReader, error) {
	conn, screen, err := openX11()
	if err != nil {
		return nil, err
	}
	if err := checkRootBounds(screen, dev); err != nil {
		conn.Close()
		return nil, err
	}
	return &x11Reader{conn: conn, root: screen.Root}, nil
}

func (r *x11Reader) ReadInto(dst []uint32, bounds image.Rectangle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return x11GetImage(r.conn, r.root, dst, bounds)
}

func (r *x11Reader) Close() error {
	r.conn.Close()
	return nil
}

// x11ShmReader reads through a SysV shared memory segment attached to the
// X server, avoiding the copy through the socket.
type x11ShmReader struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	seg   shm.Seg
	data  []byte
	bound image.Rectangle
}

func bindX11Shm(dev ScreenDevice) (PixelReader, error) {
	conn, screen, err := openX11()
	if err != nil {
		return nil, err
	}
	if err := checkRootBounds(screen, dev); err != nil {
		conn.Close()
		return nil, err
	}
	if err := shm.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("MIT-SHM extension: %w", err)
	}

	bounds := dev.EffectiveBounds()
	size := bounds.Dx() * bounds.Dy() * 4
	shmid, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|0o600)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmget %d bytes: %w", size, err)
	}
	// The segment is destroyed once both sides detach.
	defer unix.SysvShmCtl(shmid, unix.IPC_RMID, nil)

	data, err := unix.SysvShmAttach(shmid, 0, 0)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmat: %w", err)
	}

	seg, err := shm.NewSegId(conn)
	if err != nil {
		unix.SysvShmDetach(data)
		conn.Close()
		return nil, fmt.Errorf("allocate shm segment id: %w", err)
	}
	if err := shm.AttachChecked(conn, seg, uint32(shmid), false).Check(); err != nil {
		unix.SysvShmDetach(data)
		conn.Close()
		return nil, fmt.Errorf("X server shm attach: %w", err)
	}

	return &x11ShmReader{
		conn:  conn,
		root:  screen.Root,
		seg:   seg,
		data:  data,
		bound: bounds,
	}, nil
}

func (r *x11ShmReader) ReadInto(dst []uint32, bounds image.Rectangle) error {
	w, h := bounds.Dx(), bounds.Dy()
	if w*h*4 > len(r.data) {
		return fmt.Errorf("capture %v larger than shm segment for %v", bounds, r.bound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reply, err := shm.GetImage(r.conn, xproto.Drawable(r.root),
		int16(bounds.Min.X), int16(bounds.Min.Y), uint16(w), uint16(h),
		0xffffffff, xproto.ImageFormatZPixmap, r.seg, 0).Reply()
	if err != nil {
		return fmt.Errorf("shm GetImage: %w", err)
	}
	if err := checkDepth(reply.Depth); err != nil {
		return err
	}
	bgraToARGB(dst, r.data, w, h, w*4)
	return nil
}

func (r *x11ShmReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	shm.Detach(r.conn, r.seg)
	err := unix.SysvShmDetach(r.data)
	r.conn.Close()
	return err
}
