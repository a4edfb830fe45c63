package app

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"keystone/hal"
	"keystone/kernel/kpanic"
)

const panicCols = 80

func installPanicHandler(h hal.HAL) {
	kpanic.SetHandler(func(info kpanic.Info) {
		lines := panicLines(info)
		if l := h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}

		disp := h.Display()
		if disp == nil {
			return
		}
		fb := disp.Framebuffer()
		if fb == nil {
			return
		}
		drawPanic(newFBDisplay(fb), lines)
	})
}

func panicLines(info kpanic.Info) []string {
	lines := []string{
		"Keystone kernel panic:",
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func drawPanic(d *fbDisplay, lines []string) {
	d.fb.ClearRGB(255, 255, 255)
	fg := color.RGBA{A: 255}

	_, maxH := d.Size()
	y := int16(0)
	for _, line := range lines {
		line = strings.ReplaceAll(line, "\t", "  ")
		for len(line) > 0 {
			if y+fontHeight > maxH {
				_ = d.Display()
				return
			}
			chunk, rest := takeRunes(line, panicCols)
			d.WriteLine(0, y, chunk, fg)
			y += fontHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = d.Display()
}

func takeRunes(s string, n int) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if len(s) <= n {
		return s, ""
	}
	var i, count int
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
