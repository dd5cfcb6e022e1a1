package sim

import "sync"

// RegisterDevice models the common register-file device: the first byte of
// a write sets the register pointer, following bytes are stored from there.
// Reads stream from the pointer. The pointer auto-increments and wraps.
type RegisterDevice struct {
	mx   sync.Mutex
	regs [256]byte
	ptr  byte
	// ReadOnly registers ignore writes.
	ReadOnly map[byte]bool
}

func NewRegisterDevice(initial map[byte]byte) *RegisterDevice {
	d := &RegisterDevice{}
	for reg, value := range initial {
		d.regs[reg] = value
	}
	return d
}

func (d *RegisterDevice) Write(data []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(data) == 0 {
		return nil
	}
	d.ptr = data[0]
	for _, b := range data[1:] {
		if !d.ReadOnly[d.ptr] {
			d.regs[d.ptr] = b
		}
		d.ptr++
	}
	return nil
}

func (d *RegisterDevice) Read(buf []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	for i := range buf {
		buf[i] = d.regs[d.ptr]
		d.ptr++
	}
	return nil
}

func (d *RegisterDevice) Set(reg, value byte) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.regs[reg] = value
}

func (d *RegisterDevice) Get(reg byte) byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.regs[reg]
}

// FuncDevice delegates to the given functions, nil functions accept everything.
type FuncDevice struct {
	WriteFunc func(data []byte) error
	ReadFunc  func(buf []byte) error
}

func (f FuncDevice) Write(data []byte) error {
	if f.WriteFunc == nil {
		return nil
	}
	return f.WriteFunc(data)
}

func (f FuncDevice) Read(buf []byte) error {
	if f.ReadFunc == nil {
		return nil
	}
	return f.ReadFunc(buf)
}
