package raster

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/gogpu/binview/internal/bufpool"
	"github.com/gogpu/binview/internal/rowread"
)

var black = color.NRGBA{A: 0xff}

func readRows(t *testing.T, data []byte, width, height int, pool *bufpool.Pool[rowread.Triple]) rowread.Rows {
	t.Helper()
	rows, _, err := rowread.Read(context.Background(), bytes.NewReader(data), width, height, pool)
	if err != nil {
		t.Fatalf("rowread.Read: %v", err)
	}
	return rows
}

func TestBands(t *testing.T) {
	tests := []struct {
		name   string
		height int
		n      int
		want   []Band
	}{
		{"empty", 0, 4, nil},
		{"single", 5, 1, []Band{{0, 5}}},
		{"even", 4, 2, []Band{{0, 2}, {2, 4}}},
		{"uneven", 5, 2, []Band{{0, 3}, {3, 5}}},
		{"more workers than rows", 2, 8, []Band{{0, 1}, {1, 2}}},
		{"non-positive n", 3, 0, []Band{{0, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bands(tt.height, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Bands(%d, %d) = %v, want %v", tt.height, tt.n, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("band %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRasterize_Cells(t *testing.T) {
	// 5 bytes: one full triple, one partial pixel, two background cells.
	triples := bufpool.New[rowread.Triple](0)
	rows := readRows(t, []byte{10, 20, 30, 40, 50}, 2, 2, triples)
	defer rows.Release()

	bg := color.NRGBA{R: 1, G: 2, B: 3, A: 0xff}
	grid, err := Rasterize(context.Background(), rows, 2, 2, bg, Options{MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	defer grid.Release()

	want := []color.NRGBA{
		{R: 10, G: 20, B: 30, A: 0xff},
		{R: 40, G: 50, B: 0, A: 0xff},
		bg,
		bg,
	}
	for i, w := range want {
		if got := grid.NRGBAAt(i%2, i/2); got != w {
			t.Errorf("cell %d = %v, want %v", i, got, w)
		}
	}
	if !grid.Opaque() {
		t.Error("grid with opaque background should be opaque")
	}
}

func TestRasterize_SerialMatchesParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 3*1000+2)
	rng.Read(data)

	const side = 32 // ceil(sqrt(1001))
	triples := bufpool.New[rowread.Triple](0)

	serialRows := readRows(t, data, side, side, triples)
	defer serialRows.Release()
	serial, err := Rasterize(context.Background(), serialRows, side, side, black, Options{Serial: true})
	if err != nil {
		t.Fatalf("serial Rasterize: %v", err)
	}
	defer serial.Release()

	for _, workers := range []int{1, 3, 8, 64} {
		rows := readRows(t, data, side, side, triples)
		parallel, err := Rasterize(context.Background(), rows, side, side, black, Options{MaxConcurrency: workers})
		if err != nil {
			t.Fatalf("parallel Rasterize(%d): %v", workers, err)
		}
		for y := 0; y < side; y++ {
			if !bytes.Equal(serial.Row(y), parallel.Row(y)) {
				t.Errorf("workers=%d: row %d differs from serial", workers, y)
			}
		}
		parallel.Release()
		rows.Release()
	}
}

func TestRasterize_ReleaseRows(t *testing.T) {
	triples := bufpool.New[rowread.Triple](0)
	pixels := bufpool.New[uint8](0)
	rows := readRows(t, bytes.Repeat([]byte{7}, 3*9), 3, 3, triples)

	grid, err := Rasterize(context.Background(), rows, 3, 3, black, Options{ReleaseRows: true, Pool: pixels})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if rows.Started() != 0 {
		t.Errorf("%d rows still held after ReleaseRows", rows.Started())
	}
	if st := triples.Stats(); st.Outstanding != 0 {
		t.Errorf("triple pool outstanding = %d, want 0", st.Outstanding)
	}

	grid.Release()
	grid.Release()
	if st := pixels.Stats(); st.Outstanding != 0 || st.Rented != 3 {
		t.Errorf("pixel pool stats = %+v, want 3 rented and none outstanding", st)
	}
}

func TestRasterize_Cancelled(t *testing.T) {
	triples := bufpool.New[rowread.Triple](0)
	pixels := bufpool.New[uint8](0)
	rows := readRows(t, make([]byte, 3*64), 8, 8, triples)
	defer rows.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, serial := range []bool{true, false} {
		grid, err := Rasterize(ctx, rows, 8, 8, black, Options{Serial: serial, Pool: pixels})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serial=%v: err = %v, want context.Canceled", serial, err)
		}
		if grid != nil {
			t.Errorf("serial=%v: grid should be nil on cancellation", serial)
		}
	}
	if st := pixels.Stats(); st.Outstanding != 0 {
		t.Errorf("pixel pool outstanding = %d, want 0", st.Outstanding)
	}
}

// tripContext reports cancellation from its n-th Err call on.
type tripContext struct {
	context.Context
	calls atomic.Int64
	n     int64
}

func (c *tripContext) Err() error {
	if c.calls.Add(1) >= c.n {
		return context.Canceled
	}
	return nil
}

func TestRasterize_CancelledMidway(t *testing.T) {
	const side = 64
	for _, serial := range []bool{true, false} {
		triples := bufpool.New[rowread.Triple](0)
		pixels := bufpool.New[uint8](0)
		rows := readRows(t, bytes.Repeat([]byte{1, 2, 3}, side*side), side, side, triples)

		ctx := &tripContext{Context: context.Background(), n: 20}
		grid, err := Rasterize(ctx, rows, side, side, black, Options{
			Serial:         serial,
			MaxConcurrency: 4,
			ReleaseRows:    true,
			Pool:           pixels,
		})
		rows.Release()

		if !errors.Is(err, context.Canceled) {
			t.Errorf("serial=%v: err = %v, want context.Canceled", serial, err)
		}
		if grid != nil {
			t.Errorf("serial=%v: grid should be nil on cancellation", serial)
		}
		ps, ts := pixels.Stats(), triples.Stats()
		if ps.Rented == 0 || ps.Rented >= side {
			t.Errorf("serial=%v: %d grid rows rented, want a partial grid", serial, ps.Rented)
		}
		if ps.Outstanding != 0 {
			t.Errorf("serial=%v: pixel pool stats = %+v, want none outstanding", serial, ps)
		}
		if ts.Rented != side || ts.Outstanding != 0 {
			t.Errorf("serial=%v: triple pool stats = %+v, want %d rented and none outstanding", serial, ts, side)
		}
	}
}

func TestGrid_OutOfBounds(t *testing.T) {
	g := newGrid(2, 2, bufpool.New[uint8](0))
	if got := g.NRGBAAt(-1, 0); got != (color.NRGBA{}) {
		t.Errorf("NRGBAAt(-1, 0) = %v, want zero", got)
	}
	if got := g.NRGBAAt(0, 0); got != (color.NRGBA{}) {
		t.Errorf("unbuilt row should read as zero, got %v", got)
	}
	if g.Row(5) != nil {
		t.Error("Row(5) should be nil")
	}
	if g.Bounds().Dx() != 2 || g.Bounds().Dy() != 2 {
		t.Errorf("Bounds = %v", g.Bounds())
	}
}

func BenchmarkRasterize(b *testing.B) {
	data := make([]byte, 3*512*512)
	rand.New(rand.NewSource(1)).Read(data)
	triples := bufpool.New[rowread.Triple](0)
	pixels := bufpool.New[uint8](0)

	for _, serial := range []bool{true, false} {
		name := "parallel"
		if serial {
			name = "serial"
		}
		b.Run(name, func(b *testing.B) {
			rows, _, _ := rowread.Read(context.Background(), bytes.NewReader(data), 512, 512, triples)
			defer rows.Release()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				grid, _ := Rasterize(context.Background(), rows, 512, 512, black, Options{Serial: serial, Pool: pixels})
				grid.Release()
			}
		})
	}
}
