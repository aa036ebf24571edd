// Package device implements audio.CaptureDevice and audio.PlaybackDevice on
// top of miniaudio through malgo.
package device

import (
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// Context owns the miniaudio context shared by every device it opens.
type Context struct {
	mctx   *malgo.AllocatedContext
	logger audio.Logger
}

func NewContext(logger audio.Logger) (*Context, error) {
	logger = audio.OrNoOp(logger)
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", classify(err))
	}
	return &Context{mctx: mctx, logger: logger}, nil
}

func (c *Context) Close() error {
	if c.mctx == nil {
		return nil
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	c.mctx = nil
	return err
}

// Microphone returns a capture device. rate 0 keeps the hardware's native
// rate, which is what the capture path expects.
func (c *Context) Microphone(rate int) *Microphone {
	return &Microphone{ctx: c, rate: rate, logger: c.logger}
}

func (c *Context) Speaker() *Speaker {
	return &Speaker{ctx: c, logger: c.logger}
}

func classify(err error) error {
	if errors.Is(err, malgo.ErrAccessDenied) {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}
