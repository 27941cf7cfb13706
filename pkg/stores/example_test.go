package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/stateprep/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated history store.
func ExampleOpen() {
	dir, err := os.MkdirTemp("", "stateprep-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := stores.Open(ctx, filepath.Join(dir, "history.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordCompilation demonstrates recording a compilation
// and reading back its skipped steps.
func ExampleSQLiteStore_RecordCompilation() {
	dir, _ := os.MkdirTemp("", "stateprep-example")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := stores.Open(ctx, filepath.Join(dir, "history.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	input := []byte(`{"component": {"web": {"state": []}}}`)
	c := stores.NewCompilation("site.json", input)
	c.Status = stores.CompilationSucceeded
	c.Format = "json"
	c.Components = 1
	c.Steps = 1
	c.Skipped = 1
	c.Duration = 3 * time.Millisecond

	skipped := []stores.SkippedStep{{
		Component: "web",
		StateID:   "1",
		Module:    "made.up",
		Code:      "UNKNOWN_MODULE",
		Message:   `unknown module "made.up"`,
	}}

	if err := store.RecordCompilation(ctx, c, skipped, nil); err != nil {
		log.Fatal(err)
	}

	steps, err := store.ListSkippedSteps(ctx, c.ID)
	if err != nil {
		log.Fatal(err)
	}

	for _, s := range steps {
		fmt.Printf("%s/%s %s: %s\n", s.Component, s.StateID, s.Code, s.Message)
	}
	// Output: web/1 UNKNOWN_MODULE: unknown module "made.up"
}
