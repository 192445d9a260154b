// Command slabdemo exercises the allocator end to end: allocate across a
// few size classes, advance and close epochs, and print the resulting
// stats before a graceful shutdown.
package main

import (
	"fmt"
	"os"

	tslab "github.com/blackwell-systems/temporal-slab"
)

func main() {
	fmt.Println("temporal-slab demo starting...")

	alloc, err := tslab.New(tslab.DefaultConfig())
	if err != nil {
		fmt.Println("failed to create allocator:", err)
		os.Exit(1)
	}
	alloc.OnShutdown(func() error {
		fmt.Println("allocator shutdown hook ran")
		return nil
	})

	epoch0 := alloc.EpochCurrent()
	alloc.SetEpochLabel(epoch0, "startup")

	var handles []tslab.Handle
	for _, size := range []uint32{16, 64, 256, 1024} {
		h, data, err := alloc.Allocate(size, epoch0)
		if err != nil {
			fmt.Println("allocate failed:", err)
			os.Exit(1)
		}
		for i := range data {
			data[i] = byte(size)
		}
		handles = append(handles, h)
		fmt.Printf("allocated %d bytes in epoch %d, handle=%#x\n", size, epoch0, h)
	}

	domain := alloc.OpenDomain(epoch0)
	fmt.Println("opened domain", domain.ID(), "over epoch", domain.Epoch())

	for _, h := range handles[:len(handles)-1] {
		if err := alloc.Free(h); err != nil {
			fmt.Println("free failed:", err)
			os.Exit(1)
		}
	}

	epoch1 := alloc.EpochAdvance()
	alloc.SetEpochLabel(epoch1, "steady-state")
	fmt.Println("advanced to epoch", epoch1)

	if err := alloc.EpochClose(epoch0); err == nil {
		fmt.Println("unexpected: epoch close succeeded while domain still open")
	} else {
		fmt.Println("epoch close correctly rejected while domain open:", err)
	}

	domain.Close()
	if err := alloc.Free(handles[len(handles)-1]); err != nil {
		fmt.Println("free failed:", err)
		os.Exit(1)
	}

	if err := alloc.EpochClose(epoch0); err != nil {
		fmt.Println("epoch close failed:", err)
		os.Exit(1)
	}
	fmt.Println("closed epoch", epoch0)

	stats := alloc.GlobalStats()
	fmt.Printf("global stats: epoch=%d active=%d closing=%d births=%d reuses=%d\n",
		stats.CurrentEpoch, stats.ActiveEpochs, stats.ClosingEpochs,
		stats.TotalSlabBirths, stats.TotalSlabCacheReuses)

	if err := alloc.Destroy(); err != nil {
		fmt.Println("shutdown error:", err)
		os.Exit(1)
	}
	fmt.Println("temporal-slab demo complete")
}
