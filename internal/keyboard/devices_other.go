//go:build !linux

package keyboard

import "context"

func (d *Devices) Run(ctx context.Context, out chan<- KeyEvent) error {
	return ErrUnsupported
}
