package app

import (
	"fmt"
	"image/color"
	"sync/atomic"

	"keystone/kernel"
)

const statusLines = 4

var (
	colBackground = color.RGBA{R: 0x10, G: 0x10, B: 0x18, A: 255}
	colText       = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 255}
	colWarn       = color.RGBA{R: 0xFF, G: 0x60, B: 0x40, A: 255}
	colEmpty      = color.RGBA{R: 0x20, G: 0x20, B: 0x30, A: 255}
	colLive       = color.RGBA{R: 0x30, G: 0xD0, B: 0x60, A: 255}
	colHot        = color.RGBA{R: 0xF0, G: 0xE0, B: 0x40, A: 255}
)

// occupancyView paints the handle arena as a grid of cells, one cell per
// run of slots, under a few lines of status text. The log console, when
// there is room for one, sits below the grid.
type occupancyView struct {
	d     *fbDisplay
	con   *console
	sys   *kernel.System
	mem   *ledger
	stats *LoadStats
	host  *atomic.Uint64

	slots []bool
}

func newOccupancyView(d *fbDisplay, con *console, sys *kernel.System, mem *ledger, stats *LoadStats, host *atomic.Uint64) *occupancyView {
	return &occupancyView{
		d:     d,
		con:   con,
		sys:   sys,
		mem:   mem,
		stats: stats,
		host:  host,
		slots: make([]bool, sys.Handles().Capacity()),
	}
}

// cellSize returns how many slots one pixel stands for in a w x h grid.
func cellSize(capacity, w, h int) int {
	px := w * h
	if px <= 0 {
		return capacity
	}
	n := (capacity + px - 1) / px
	if n < 1 {
		n = 1
	}
	return n
}

func (v *occupancyView) render() {
	w, h := v.d.Size()
	if v.con != nil {
		h = v.con.top()
		v.con.flush()
	}
	v.d.FillRectangle(0, 0, w, h, colBackground)

	live := v.sys.Handles().Occupancy(v.slots)
	v.status(live)

	top := int(statusLines*fontHeight + 2)
	gw, gh := int(w), int(h)-top
	if gh <= 0 {
		return
	}
	per := cellSize(len(v.slots), gw, gh)
	for cell := 0; cell*per < len(v.slots); cell++ {
		x, y := cell%gw, cell/gw
		if y >= gh {
			break
		}
		end := (cell + 1) * per
		if end > len(v.slots) {
			end = len(v.slots)
		}
		n := 0
		for _, ok := range v.slots[cell*per : end] {
			if ok {
				n++
			}
		}
		c := colEmpty
		switch {
		case n == end-cell*per:
			c = colHot
		case n > 0:
			c = colLive
		}
		v.d.SetPixel(int16(x), int16(top+y), c)
	}
	_ = v.d.Display()
}

func (v *occupancyView) status(live int) {
	st := v.sys.Handles().Stats()
	sel := v.sys.OOM()
	free := v.mem.FreeBytes()
	redline := v.sys.Monitor().Config().Redline

	lines := []string{
		fmt.Sprintf("handles %d/%d  committed %d  free-list %d", live, st.Capacity, st.Committed, st.FreeList),
		fmt.Sprintf("ops c%d d%d x%d  nores %d", v.stats.Creates.Load(), v.stats.Duplicates.Load(), v.stats.Deletes.Load(), v.stats.NoResources.Load()),
		fmt.Sprintf("procs +%d -%d  jobs %d  oom %d/%d (%s)", v.stats.Spawned.Load(), v.stats.Reaped.Load(), v.sys.Jobs().Len(), sel.Kills(), sel.Runs(), sel.State()),
		fmt.Sprintf("mem free %d MB  redline %d MB  t=%d/%dms", free>>20, redline>>20, v.sys.Ticks(), v.host.Load()),
	}
	for i, s := range lines {
		c := colText
		if i == 3 && free < redline {
			c = colWarn
		}
		v.d.WriteLine(1, int16(i*fontHeight+1), s, c)
	}
}
