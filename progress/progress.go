// Package progress implements Component G, the progress driver (§4.G):
// when the fabric reports manual progress, a dedicated thread drives it
// in a tight loop until shutdown sets a halt flag.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// Driver owns the dedicated progress-polling goroutine required by a
// MANUAL-progress fabric provider. An AUTO-progress provider needs no
// Driver; callers should only construct one after checking
// endpoint.Mode() == fabric.ProgressManual.
type Driver struct {
	endpoint fabric.Endpoint
	halt     atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// New constructs a Driver bound to endpoint. It does not start polling;
// call Start.
func New(endpoint fabric.Endpoint) *Driver {
	return &Driver{endpoint: endpoint, done: make(chan struct{})}
}

// Start launches the tight poll loop on its own goroutine. A no-op if
// endpoint is already in AUTO mode, matching §4.G's "if the fabric
// reports MANUAL ... a dedicated thread calls the fabric's progress
// poll in a tight loop".
func (d *Driver) Start() {
	if d.endpoint.Mode() != fabric.ProgressManual {
		close(d.done)
		return
	}
	go d.run()
}

func (d *Driver) run() {
	defer close(d.done)
	for !d.halt.Load() {
		d.endpoint.Progress()
	}
	xlog.V(4).Infof("progress: halt observed, driver exiting")
}

// Halt sets the halt flag; the poll loop observes it on its next
// iteration and exits (§4.G "The halt flag is set by the server's
// shutdown path before joining the thread").
func (d *Driver) Halt() {
	d.once.Do(func() { d.halt.Store(true) })
}

// Join blocks until the driver's goroutine has exited. Shutdown should
// call Halt then Join, in that order.
func (d *Driver) Join() {
	<-d.done
}
