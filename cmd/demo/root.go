package demo

import (
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/codec"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/store/federated"
	"github.com/ValentinKolb/dGrid/lib/store/replicated"
	"github.com/ValentinKolb/dGrid/lib/store/separated"
	"github.com/ValentinKolb/dGrid/lib/transport/inproc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DemoCmd spins up a small in-process grid and walks all three
// distribution strategies through a write/read cycle.
var DemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process grid demo",
	Long: `Starts several grid peers connected through an in-process message bus,
creates a separated, a replicated and a federated storage on each of
them and demonstrates the distribution behavior of the three
strategies.`,
	Run: runDemo,
}

func init() {
	DemoCmd.Flags().Int("peers", 3, util.WrapString("Number of in-process grid peers to start"))
	_ = viper.BindPFlag("peers", DemoCmd.Flags().Lookup("peers"))
}

// peer is one demo participant with a storage of every strategy
type peer struct {
	grid       *grid.StorageGrid
	separated  store.Storage[string, int]
	replicated store.Storage[string, int]
	federated  store.Storage[string, int]
}

func runDemo(_ *cobra.Command, _ []string) {
	util.InitConfig()
	cfg := util.GetGridConfig()
	numPeers := viper.GetInt("peers")
	if numPeers < 2 {
		numPeers = 2
	}

	fmt.Printf("starting %d grid peers...\n", numPeers)
	hub := inproc.NewHub()

	peers := make([]*peer, 0, numPeers)
	for i := 0; i < numPeers; i++ {
		p, err := newPeer(hub, cfg)
		if err != nil {
			fmt.Printf("building peer %d failed: %v\n", i, err)
			os.Exit(1)
		}
		peers = append(peers, p)
	}
	defer func() {
		for _, p := range peers {
			_ = p.separated.Close()
			_ = p.replicated.Close()
			_ = p.federated.Close()
			_ = p.grid.Close()
		}
	}()

	// wait for the cluster to form
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, ok := peers[0].grid.LeaderID(); ok &&
			len(peers[0].grid.RemoteEndpointIDs()) == numPeers-1 {
			break
		}
		if time.Now().After(deadline) {
			fmt.Println("cluster did not form in time")
			os.Exit(1)
		}
		time.Sleep(50 * time.Millisecond)
	}
	leader, _ := peers[0].grid.LeaderID()
	fmt.Printf("cluster formed, leader is %s\n\n", leader)

	// separated: the writer owns the key, everybody can read it
	fmt.Println("separated storage:")
	if _, _, err := peers[0].separated.Set("city", 1); err != nil {
		fmt.Printf("  set failed: %v\n", err)
	}
	v, ok, _ := peers[1].separated.Get("city")
	fmt.Printf("  peer 0 wrote city=1, peer 1 reads %d (found=%t)\n", v, ok)
	fmt.Printf("  owner holds %d local entries, reader holds %d\n\n",
		peers[0].separated.LocalSize(), peers[1].separated.LocalSize())

	// replicated: the write lands on every peer
	fmt.Println("replicated storage:")
	if _, _, err := peers[1].replicated.Set("counter", 42); err != nil {
		fmt.Printf("  set failed: %v\n", err)
	}
	time.Sleep(200 * time.Millisecond)
	for i, p := range peers {
		v, _, _ := p.replicated.Get("counter")
		fmt.Printf("  peer %d reads counter=%d\n", i, v)
	}
	fmt.Println()

	// federated: contributions merge through the operator
	fmt.Println("federated storage (merge = sum):")
	_, _, _ = peers[0].federated.Set("total", 3)
	_, _, _ = peers[1].federated.Set("total", 5)
	time.Sleep(200 * time.Millisecond)
	for i, p := range peers {
		v, _, _ := p.federated.Get("total")
		fmt.Printf("  peer %d reads total=%d\n", i, v)
	}
}

// newPeer builds one grid peer with all three storages
func newPeer(hub *inproc.Hub, cfg grid.Config) (*peer, error) {
	g := grid.New(hub.Join(), cfg)

	keyCodec := codec.NewStringCodec()
	valueCodec := codec.NewJSONCodec[int]()

	sep, err := separated.New(g, separated.Config{StorageID: "demo-separated"}, keyCodec, valueCodec, nil)
	if err != nil {
		return nil, err
	}
	rep, err := replicated.New(g, replicated.Config{StorageID: "demo-replicated"}, keyCodec, valueCodec, nil)
	if err != nil {
		return nil, err
	}
	fed, err := federated.New(g, federated.Config{StorageID: "demo-federated"}, keyCodec, valueCodec,
		func(a, b int) int { return a + b }, nil)
	if err != nil {
		return nil, err
	}

	return &peer{grid: g, separated: sep, replicated: rep, federated: fed}, nil
}
