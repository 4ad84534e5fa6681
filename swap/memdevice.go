package swap

import "sync"

// reqcmd_t mirrors the teacher's fs.Bdevcmd_t (BDEV_READ/BDEV_WRITE).
type reqcmd_t int

const (
	cmdRead reqcmd_t = iota
	cmdWrite
)

type request_t struct {
	cmd    reqcmd_t
	sector int
	buf    []byte
	ackCh  chan bool
}

/// MemoryDevice is an in-memory swap backing store for tests and the
/// cmd/pgvmstress demo. It processes requests through a single worker
/// goroutine and an ack channel, the same request/Start/AckCh shape as the
/// teacher's fs.Disk_i, since a real swap partition's driver would also
/// serialize requests through one dispatch point.
type MemoryDevice struct {
	mu      sync.Mutex
	sectors [][]byte
	reqCh   chan *request_t
}

/// NewMemoryDevice creates a fixture with nsectors sectors of SectorSize
/// bytes each.
func NewMemoryDevice(nsectors int) *MemoryDevice {
	d := &MemoryDevice{
		sectors: make([][]byte, nsectors),
		reqCh:   make(chan *request_t, 16),
	}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, SectorSize)
	}
	go d.worker()
	return d
}

func (d *MemoryDevice) worker() {
	for req := range d.reqCh {
		d.mu.Lock()
		switch req.cmd {
		case cmdRead:
			copy(req.buf, d.sectors[req.sector])
		case cmdWrite:
			copy(d.sectors[req.sector], req.buf)
		}
		d.mu.Unlock()
		req.ackCh <- true
	}
}

func (d *MemoryDevice) start(req *request_t) {
	d.reqCh <- req
	<-req.ackCh
}

func (d *MemoryDevice) ReadSector(sector int, dst []byte) {
	req := &request_t{cmd: cmdRead, sector: sector, buf: dst, ackCh: make(chan bool)}
	d.start(req)
}

func (d *MemoryDevice) WriteSector(sector int, src []byte) {
	req := &request_t{cmd: cmdWrite, sector: sector, buf: src, ackCh: make(chan bool)}
	d.start(req)
}

func (d *MemoryDevice) SectorCount() int {
	return len(d.sectors)
}
