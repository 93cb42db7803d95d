package session

import "io"

// pump decouples the channel reader from a slow destination writer through a
// bounded queue. Data is written in push order.
type pump struct {
	ch   chan []byte
	done chan struct{}
	err  error
}

func newPump(w io.Writer, size int) *pump {
	if w == nil {
		w = io.Discard
	}

	p := &pump{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		for b := range p.ch {
			// Keep draining after a failed write so the reader is never blocked.
			if p.err != nil {
				continue
			}
			if _, err := w.Write(b); err != nil {
				p.err = err
			}
		}
	}()

	return p
}

func (p *pump) push(b []byte) { p.ch <- b }
func (p *pump) close()        { close(p.ch) }

func (p *pump) wait() error {
	<-p.done
	return p.err
}
