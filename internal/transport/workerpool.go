package transport

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 256

// WorkerFunction is one unit of connection-handling work.
type WorkerFunction func(t *tomb.Tomb, c *conn) error

// workerPool runs a fixed number of tomb-supervised goroutines pulling
// connections off a shared channel.
type workerPool struct {
	size  int
	tasks chan *conn
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{
		size:  size,
		tasks: make(chan *conn, taskChanSize),
	}
}

func (p *workerPool) AddTask(c *conn) {
	p.tasks <- c
}

// Setup starts the pool's fixed set of workers under the supervising
// tomb. Each worker runs until the tomb is dying or the task channel
// is closed.
func (p *workerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := 0; id < p.size; id++ {
		id := id
		t.Go(func() error {
			return p.worker(t, id, work)
		})
	}
}

func (p *workerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case c, ok := <-p.tasks:
			if !ok {
				return nil
			}
			if err := work(t, c); err != nil {
				log.Error().Err(err).Int("worker", id).Msg("connection handler failed")
			}
		}
	}
}
