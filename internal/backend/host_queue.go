package backend

import "sync"

// commandQueue executes submitted commands in order on one goroutine. The
// first failure since the last finish is reported by finish.
type commandQueue struct {
	cmds    chan func() error
	pending sync.WaitGroup
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func newCommandQueue(depth int) *commandQueue {
	q := &commandQueue{
		cmds: make(chan func() error, depth),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *commandQueue) loop() {
	defer close(q.done)
	for cmd := range q.cmds {
		if err := cmd(); err != nil {
			q.mu.Lock()
			if q.err == nil {
				q.err = err
			}
			q.mu.Unlock()
		}
		q.pending.Done()
	}
}

// submit blocks while the queue is full.
func (q *commandQueue) submit(cmd func() error) {
	q.pending.Add(1)
	q.cmds <- cmd
}

func (q *commandQueue) finish() error {
	q.pending.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	q.err = nil
	return err
}

func (q *commandQueue) close() error {
	err := q.finish()
	close(q.cmds)
	<-q.done
	return err
}
