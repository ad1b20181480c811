// Package reveal draws a two-dimensional picture of a buddy arena. The arena is mapped onto a fixed grid by
// bisecting it alternately along the x and y axes, so every block of the arena occupies a rectangle whose
// area is proportional to its size.
package reveal

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/buddy"
)

const (
	// GridWidth is the number of cells across the map
	GridWidth = 32
	// GridHeight is the number of cells down the map
	GridHeight = 16
	// MaxLabels is the number of allocations that can be labeled, one per lowercase letter
	MaxLabels = 26

	tableColumnWidth = 32

	bgFree  = "\x1b[48;5;35m"
	bgAlloc = "\x1b[48;5;39m"
	fgFree  = "\x1b[38;5;35m"
	fgAlloc = "\x1b[38;5;39m"
	reset   = "\x1b[0m"
)

// Source is the read-only view of an arena that Render needs. *buddy.Allocator satisfies it.
type Source interface {
	ArenaSize() uint32
	VisitAllBlocks(visit func(block buddy.BlockInfo) error) error
	BlockSize(ptr buddy.Pointer) (uint32, error)
}

var _ Source = &buddy.Allocator{}

// Options controls how the map is drawn. The zero value draws plain text.
type Options struct {
	// Color fills free and allocated blocks with ANSI background colors
	Color bool
}

type point struct {
	x, y int
}

type grid struct {
	cells   [GridHeight][GridWidth]string
	size    uint64
	options Options
}

// Render writes the map of src to w, followed by a table of block sizes. Free blocks are numbered from 1
// in address order. labeled[i], if it is not buddy.NilPointer, is drawn with the letter 'a'+i. Allocated
// blocks without a label are drawn with '#' and left out of the table.
//
// Each cell holds two characters, so only the first character of a label is drawn. Free blocks from 10 on
// show only their leading digit in the map, which makes blocks 1 and 12 look alike; the size table below the
// map carries the full numbers.
func Render(w io.Writer, src Source, labeled []buddy.Pointer, options Options) error {
	if len(labeled) > MaxLabels {
		return errors.Newf("at most %d allocations can be labeled, but %d were provided", MaxLabels, len(labeled))
	}

	size := src.ArenaSize()
	if size == 0 {
		return errors.Wrap(buddy.ErrNotInitialized, "nothing to reveal")
	}

	g := &grid{size: uint64(size), options: options}
	for y := range g.cells {
		for x := range g.cells[y] {
			g.cells[y][x] = "  "
		}
	}

	var freeSizes, allocSizes []string

	freeIndex := 0
	err := src.VisitAllBlocks(func(block buddy.BlockInfo) error {
		if block.State == buddy.BlockFree {
			freeIndex++
			freeSizes = append(freeSizes, fmt.Sprintf("%d) %d bytes", freeIndex, block.Size))
			g.fill(block, strconv.Itoa(freeIndex))
		} else {
			g.fill(block, "#")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, ptr := range labeled {
		if ptr == buddy.NilPointer {
			continue
		}

		blockSize, err := src.BlockSize(ptr)
		if err != nil {
			return errors.Wrapf(err, "label %c", 'a'+i)
		}

		label := string(rune('a' + i))
		allocSizes = append(allocSizes, fmt.Sprintf("%s) %d bytes", label, blockSize))
		g.fill(buddy.BlockInfo{
			Offset: uint32(ptr) - buddy.HeaderSize,
			Size:   blockSize,
			State:  buddy.BlockAllocated,
		}, label)
	}

	var out strings.Builder
	for y := range g.cells {
		for x := range g.cells[y] {
			out.WriteString(g.cells[y][x])
		}
		out.WriteByte('\n')
	}

	g.writeTable(&out, freeSizes, allocSizes)

	_, err = io.WriteString(w, out.String())
	return err
}

func (g *grid) writeTable(out *strings.Builder, freeSizes, allocSizes []string) {
	g.colored(out, fgFree, fmt.Sprintf("%-*s", tableColumnWidth, "Free"))
	if len(allocSizes) > 0 {
		g.colored(out, fgAlloc, "Allocated")
	}
	out.WriteByte('\n')

	rows := len(freeSizes)
	if len(allocSizes) > rows {
		rows = len(allocSizes)
	}

	for i := 0; i < rows; i++ {
		var left, right string
		if i < len(freeSizes) {
			left = freeSizes[i]
		}
		if i < len(allocSizes) {
			right = allocSizes[i]
		}
		fmt.Fprintf(out, "%-*s%s\n", tableColumnWidth, left, right)
	}
}

func (g *grid) colored(out *strings.Builder, color string, text string) {
	if !g.options.Color {
		out.WriteString(text)
		return
	}
	out.WriteString(color)
	out.WriteString(text)
	out.WriteString(reset)
}

// fill draws block as a bordered rectangle with label in its top left corner
func (g *grid) fill(block buddy.BlockInfo, label string) {
	start := g.toPoint(uint64(block.Offset), false)
	end := g.toPoint(uint64(block.Offset)+uint64(block.Size), true)

	color := bgFree
	if block.State == buddy.BlockAllocated {
		color = bgAlloc
	}

	for y := start.y; y < end.y; y++ {
		for x := start.x; x < end.x; x++ {
			var text string
			switch {
			case x == start.x && y == start.y:
				text = "|" + label[:1]
			case x == start.x && y == end.y-1:
				text = "|_"
			case y == end.y-1:
				text = "__"
			case x == start.x:
				text = "| "
			default:
				text = "  "
			}

			if g.options.Color {
				text = color + text + reset
			}
			g.cells[y][x] = text
		}
	}
}

// toPoint maps an arena offset to a grid coordinate. Each bit of the offset, from the highest, selects a
// half of the remaining span, alternating between the x and y axes. End coordinates are measured back from
// the far corner so that a block ending at the arena's end reaches the edge of the grid.
func (g *grid) toPoint(offset uint64, isEnd bool) point {
	span := [2]int{GridWidth, GridHeight}
	coord := [2]int{0, 0}
	sign := 1

	if isEnd {
		offset = g.size - offset
		coord = [2]int{GridWidth, GridHeight}
		sign = -1
	}

	axis := 0
	for bit := g.size >> 1; bit != 0; bit >>= 1 {
		span[axis] >>= 1
		if offset&bit != 0 {
			coord[axis] += span[axis] * sign
		}
		axis = 1 - axis
	}

	return point{x: coord[0], y: coord[1]}
}
