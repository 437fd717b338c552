// Command centralsim drives a fleet of centralfree.Central instances
// (one per size class) against a real pagearena.Arena, simulating
// concurrent thread caches doing alloc/free churn and a background
// collector advancing the sweep generation. It exists so the rest of
// this module is exercisable end to end, not just unit-testable
// against fakes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/flowstash/centralfree"
	"github.com/flowstash/centralfree/debug"
	"github.com/flowstash/centralfree/examples/threadcache"
	"github.com/flowstash/centralfree/internal/markandsweep"
	"github.com/flowstash/centralfree/internal/markbits"
	"github.com/flowstash/centralfree/internal/pagearena"
	"github.com/flowstash/centralfree/internal/sizeclass"
)

func main() {
	var (
		arenaMB      = flag.Int("arena-mb", 64, "arena size in megabytes")
		maxObjSize   = flag.Int("max-object-size", 4096, "largest small-object size class, in bytes")
		workers      = flag.Int("workers", 8, "number of concurrent simulated thread caches")
		maxCached    = flag.Int64("max-cached-spans", 4, "semaphore weight bounding concurrently cached spans")
		iterations   = flag.Int("iterations", 20000, "alloc/free operations per worker")
		sweepEvery   = flag.Duration("sweep-every", 50*time.Millisecond, "background sweep-generation advance interval")
		statsEvery   = flag.Duration("stats-every", time.Second, "stats print interval")
		httpAddr     = flag.String("http", "", "if set, serve the /debug endpoints on this address (e.g. :6060)")
		interactive  = flag.Bool("interactive", false, "if stdin is a terminal, read keystrokes for an on-demand stats REPL")
		deathPercent = flag.Int("death-percent", 60, "percent chance a marked-live object is instead left for the sweeper to reclaim")
	)
	flag.Parse()

	arena, err := pagearena.New(*arenaMB << 20)
	if err != nil {
		log.Fatalf("centralsim: %v", err)
	}
	defer arena.Close()

	classes := sizeclass.Compute(uintptr(*maxObjSize), 8, 1<<13)
	bits := markbits.New()

	centrals := make([]*centralfree.Central, classes.Len())
	marked := &markedSet{live: make(map[centralfree.Addr]bool), deathPercent: *deathPercent}
	sweeper := markandsweep.New(bits, marked.IsMarked, func(sc centralfree.SizeClass) *centralfree.Central {
		return centrals[sc]
	})
	reg := debug.NewRegistry()
	for i := range centrals {
		sc := centralfree.SizeClass(i)
		label := fmt.Sprintf("class-%d(%dB)", i, classes.Size(sc))
		centrals[i] = centralfree.NewCentral(sc, arena, sweeper, classes, bits, centralfree.WithLabel(label))
		reg.Register(label, centrals[i])
	}

	if *httpAddr != "" {
		go func() {
			log.Printf("centralsim: debug endpoints on http://%s/debug/centralfree/stats", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, reg.Handler()); err != nil {
				log.Printf("centralsim: http server: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var g errgroup.Group
	sem := semaphore.NewWeighted(*maxCached)

	for w := 0; w < *workers; w++ {
		w := w
		g.Go(func() error {
			return runWorker(ctx, w, arena, centrals, classes, sem, *iterations, marked)
		})
	}

	g.Go(func() error { return runSweepLoop(ctx, arena, *sweepEvery) })

	printer := message.NewPrinter(language.English)
	g.Go(func() error { return runStatsLoop(ctx, reg, printer, *statsEvery) })

	if *interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		g.Go(func() error { return runREPL(ctx, reg, printer) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("centralsim: %v", err)
	}
}

// markedSet stands in for a real collector's mark phase: every object
// a worker allocates is recorded live; IsMarked randomly "forgets" a
// death-percent fraction of them on each check, simulating objects
// that became unreachable since the last mark pass, so the sweeper
// has something to reclaim.
type markedSet struct {
	mu           sync.Mutex
	live         map[centralfree.Addr]bool
	deathPercent int
}

func (m *markedSet) Add(addr centralfree.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[addr] = true
}

func (m *markedSet) Forget(addr centralfree.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, addr)
}

// IsMarked implements markandsweep.IsMarked.
func (m *markedSet) IsMarked(addr centralfree.Addr) bool {
	m.mu.Lock()
	alive := m.live[addr]
	m.mu.Unlock()
	if !alive {
		return false
	}
	return rand.Intn(100) >= m.deathPercent
}

func runWorker(ctx context.Context, id int, mem centralfree.Memory, centrals []*centralfree.Central, classes *sizeclass.Table, sem *semaphore.Weighted, iterations int, marked *markedSet) error {
	rng := rand.New(rand.NewSource(int64(id) + time.Now().UnixNano()))
	var held []struct {
		c    *centralfree.Central
		addr centralfree.Addr
	}

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sc := centralfree.SizeClass(rng.Intn(classes.Len()))
		c := centrals[sc]

		if len(held) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(held))
			item := held[idx]
			held[idx] = held[len(held)-1]
			held = held[:len(held)-1]
			marked.Forget(item.addr)
			cache := threadcache.New(item.c, mem)
			cache.Free(item.addr)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		cache := threadcache.New(c, mem)
		addr, err := cache.Alloc(ctx)
		sem.Release(1)
		if err != nil {
			// Out of memory is an expected, non-fatal outcome under a
			// small arena with many workers; just back off.
			time.Sleep(time.Millisecond)
			continue
		}
		marked.Add(addr)
		held = append(held, struct {
			c    *centralfree.Central
			addr centralfree.Addr
		}{c, addr})
		cache.Release()
	}
	return nil
}

func runSweepLoop(ctx context.Context, arena *pagearena.Arena, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			arena.AdvanceSweepGen()
		}
	}
}

func runStatsLoop(ctx context.Context, reg *debug.Registry, p *message.Printer, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			printStats(reg, p)
		}
	}
}

func printStats(reg *debug.Registry, p *message.Printer) {
	for name, st := range reg.Snapshot() {
		p.Printf("%-20s nfree=%d nonempty=%d empty=%d grows=%d returns=%d cached=%d uncached=%d\n",
			name, st.NFree, st.NonemptyLen, st.EmptyLen, st.Grows, st.Returns, st.CacheSpans, st.UncacheSpans)
	}
}

func runREPL(ctx context.Context, reg *debug.Registry, p *message.Printer) error {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil // not fatal: just skip the interactive REPL
	}
	defer term.Restore(fd, old)

	fmt.Print("centralsim: press 's' for stats, 'q' to quit\r\n")
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
		switch buf[0] {
		case 's':
			term.Restore(fd, old)
			printStats(reg, p)
			old, _ = term.MakeRaw(fd)
		case 'q':
			return nil
		}
	}
}
