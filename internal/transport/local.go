package transport

import "pig/internal/xerr"

// LocalChannel dispatches requests directly to a Handler in-process, used
// for process-max=1 runs and for tests that do not need a real
// subprocess or SSH hop.
type LocalChannel struct {
	handler Handler
	closed  bool
}

func NewLocalChannel(h Handler) *LocalChannel { return &LocalChannel{handler: h} }

func (c *LocalChannel) Send(req Request) (Response, error) {
	if c.closed {
		return Response{}, xerr.New(xerr.Protocol, "channel closed")
	}
	return c.handler(req), nil
}

func (c *LocalChannel) Close() error {
	c.closed = true
	return nil
}
