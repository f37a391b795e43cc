package board

// GPIO is one 16 pin port. Only the output side is modeled.
type GPIO struct {
	name    string
	dataOut uint16
	outEn   uint16
	toggles uint64
	watch   func(prev, cur uint16)
}

func newGPIO(name string) *GPIO {
	return &GPIO{name: name}
}

func (g *GPIO) Name() string {
	return g.name
}

func (g *GPIO) OutEnSet(mask uint16) {
	g.outEn |= mask
}

func (g *GPIO) OutEnClr(mask uint16) {
	g.outEn &^= mask
}

func (g *GPIO) OutEn() uint16 {
	return g.outEn
}

func (g *GPIO) DataOutSet(mask uint16) {
	g.write(g.dataOut | mask)
}

func (g *GPIO) DataOutClr(mask uint16) {
	g.write(g.dataOut &^ mask)
}

func (g *GPIO) DataOutTgl(mask uint16) {
	g.toggles++
	g.write(g.dataOut ^ mask)
}

func (g *GPIO) DataOut() uint16 {
	return g.dataOut
}

// Pins is the level driven on the pins: data out gated by output enable.
func (g *GPIO) Pins() uint16 {
	return g.dataOut & g.outEn
}

func (g *GPIO) Toggles() uint64 {
	return g.toggles
}

// Watch registers fn to be called on every change of the output pins.
func (g *GPIO) Watch(fn func(prev, cur uint16)) {
	g.watch = fn
}

func (g *GPIO) write(v uint16) {
	prev := g.Pins()
	g.dataOut = v
	if g.watch != nil && prev != g.Pins() {
		g.watch(prev, g.Pins())
	}
}
