package perf

import (
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/store/replicated"
	"github.com/ValentinKolb/dGrid/lib/store/separated"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PerfCmd measures operation latencies of the distribution strategies on
// an in-process grid.
var PerfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Measure storage operation latencies",
	Long: `Starts an in-process grid and measures set/get latencies of the
separated and replicated strategies, printing latency percentiles per
operation.`,
	Run: runPerf,
}

func init() {
	PerfCmd.Flags().Int("peers", 3, util.WrapString("Number of in-process grid peers to start"))
	PerfCmd.Flags().Int("ops", 1000, util.WrapString("Number of operations per measurement"))
	_ = viper.BindPFlag("peers", PerfCmd.Flags().Lookup("peers"))
	_ = viper.BindPFlag("ops", PerfCmd.Flags().Lookup("ops"))
}

func runPerf(_ *cobra.Command, _ []string) {
	util.InitConfig()
	cfg := util.GetGridConfig()
	numPeers := viper.GetInt("peers")
	if numPeers < 2 {
		numPeers = 2
	}
	ops := viper.GetInt("ops")

	hub := inproc.NewHub()
	grids := make([]*grid.StorageGrid, 0, numPeers)
	for i := 0; i < numPeers; i++ {
		grids = append(grids, grid.New(hub.Join(), cfg))
	}
	defer func() {
		for _, g := range grids {
			_ = g.Close()
		}
	}()

	keyCodec := codec.NewStringCodec()
	valueCodec := codec.NewJSONCodec[int]()

	seps := make([]store.Storage[string, int], 0, numPeers)
	reps := make([]store.Storage[string, int], 0, numPeers)
	for _, g := range grids {
		sep, err := separated.New(g, separated.Config{StorageID: "perf-separated"}, keyCodec, valueCodec, nil)
		if err != nil {
			fmt.Printf("building storage failed: %v\n", err)
			os.Exit(1)
		}
		rep, err := replicated.New(g, replicated.Config{StorageID: "perf-replicated"}, keyCodec, valueCodec, nil)
		if err != nil {
			fmt.Printf("building storage failed: %v\n", err)
			os.Exit(1)
		}
		seps = append(seps, sep)
		reps = append(reps, rep)
	}
	defer func() {
		for i := range seps {
			_ = seps[i].Close()
			_ = reps[i].Close()
		}
	}()

	// wait for a leader before measuring
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, ok := grids[0].LeaderID(); ok {
			break
		}
		if time.Now().After(deadline) {
			fmt.Println("cluster did not form in time")
			os.Exit(1)
		}
		time.Sleep(50 * time.Millisecond)
	}

	fmt.Printf("measuring %d ops on %d peers\n\n", ops, numPeers)

	measure("separated set (owner)", ops, func(i int) {
		_, _, _ = seps[0].Set(fmt.Sprintf("key-%d", i), i)
	})
	measure("separated get (remote)", ops, func(i int) {
		_, _, _ = seps[1].Get(fmt.Sprintf("key-%d", i))
	})
	measure("replicated set", ops, func(i int) {
		_, _, _ = reps[1].Set(fmt.Sprintf("key-%d", i), i)
	})
	measure("replicated get (local)", ops, func(i int) {
		_, _, _ = reps[1].Get(fmt.Sprintf("key-%d", i))
	})
}

// measure times one operation ops times and prints the latency profile
func measure(name string, ops int, fn func(i int)) {
	timer := gometrics.NewTimer()
	for i := 0; i < ops; i++ {
		timer.Time(func() { fn(i) })
	}

	ps := timer.Percentiles([]float64{0.5, 0.9, 0.99})
	fmt.Printf("%-24s p50=%-10s p90=%-10s p99=%-10s\n",
		name,
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
	)
}
