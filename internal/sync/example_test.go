package sync_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/store"
	"github.com/abhiyant/inspect/internal/sync"
)

// This example syncs two new records to an in-memory archive.
func ExampleNew() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "inspect-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "inspections.db"), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		log.Fatal(err)
	}

	for _, name := range []string{"Shaft", "Gear"} {
		if _, err := st.Insert(ctx, &record.InspectionRecord{ComponentName: name, InspectorName: "R"}); err != nil {
			log.Fatal(err)
		}
	}

	coord := sync.New(st, archive.NewMemory(nil), nil)

	res, err := coord.SyncToCloud(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("synced:", res.Synced)

	// Nothing left to do on the second pass.
	res, _ = coord.SyncToCloud(ctx)
	fmt.Println("synced:", res.Synced)

	// Output:
	// synced: 2
	// synced: 0
}
