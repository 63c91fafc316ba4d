package gc_test

import (
	"context"
	"fmt"

	"github.com/kolkov/gcengine/gc"
)

// Example builds a small list, drops half of it and collects.
func Example() {
	cfg := gc.DefaultConfig()
	cfg.Observability.LogLevel = "error"
	rt, err := gc.NewRuntime(cfg)
	if err != nil {
		panic(err)
	}
	node, _ := rt.RegisterType("node", 2, 0)

	head := rt.AddRoot(0, gc.Null)
	for i := 0; i < 4; i++ {
		n, _ := rt.New(node)
		rt.StoreRef(n, 0, rt.Root(head))
		rt.Store(n, 1, uint64(i))
		rt.SetRoot(head, n)
	}
	// Cut the list after its second node.
	rt.StoreRef(rt.LoadRef(rt.Root(head), 0), 0, gc.Null)

	res, _ := rt.CollectYoung(context.Background())
	fmt.Println("survivors:", res.Promotion.SurvivorObjects)

	for n := rt.Root(head); n != gc.Null; n = rt.LoadRef(n, 0) {
		fmt.Println(rt.Load(n, 1))
	}

	// Output:
	// survivors: 2
	// 3
	// 2
}

// Example_fullCollection shows a full collection freeing old regions.
func Example_fullCollection() {
	cfg := gc.DefaultConfig()
	cfg.Observability.LogLevel = "error"
	rt, _ := gc.NewRuntime(cfg)
	words := rt.RegisterDataArray("words")

	for i := 0; i < 3; i++ {
		if _, err := rt.NewOld(words, 1000); err != nil {
			panic(err)
		}
	}
	res, _ := rt.Collect(context.Background())
	fmt.Println("marked:", res.MarkedObjects, "used after:", res.UsedWordsAfter)

	// Output:
	// marked: 0 used after: 0
}
