package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chzchzchz/momentrx/config"
	"github.com/chzchzchz/momentrx/http"
	"github.com/chzchzchz/momentrx/http/client"
	"github.com/chzchzchz/momentrx/momentrx"
	"github.com/chzchzchz/momentrx/radio"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/store"
)

var rootCmd = &cobra.Command{
	Use:   "momentrx",
	Short: "A weather radar pulse compression and moment server.",
}

var (
	configPath string
	recordDir  string
	pulses     int
	product    string
	rays       int
)

func pipelineFlags(f *pflag.FlagSet) {
	f.String("source", "", "Pulse source: synthetic, file or cmd")
	f.String("path", "", "Pulse file, or FIFO for the cmd source")
	f.Float64("prf", 0, "Pulse repetition frequency in Hz")
	f.Int("gates", 0, "Gate capacity of the pulse ring")
	f.String("estimator", "", "Moment estimator: pulse-pair, multi-lag or pulse-pair-hop")
	f.String("backend", "", "DFT plan backend: fftw or gonum")
	f.String("filters", "", "Matched filter store (gob)")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file")

	runCmd := &cobra.Command{
		Use:   "run [flags] [-- helper args]",
		Short: "Run the pipeline and serve telemetry",
		Run:   func(cmd *cobra.Command, args []string) { run(cmd, args) },
	}
	pipelineFlags(runCmd.Flags())
	runCmd.Flags().String("http", "", "Telemetry listen address")
	runCmd.Flags().StringVar(&recordDir, "record", "", "Record raw pulses into this directory")
	rootCmd.AddCommand(runCmd)

	captureCmd := &cobra.Command{
		Use:   "capture [flags] dir",
		Short: "Record pulses from the configured source",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { capture(cmd, args[0]) },
	}
	pipelineFlags(captureCmd.Flags())
	captureCmd.Flags().IntVarP(&pulses, "pulses", "n", 5000, "Pulses to record")
	rootCmd.AddCommand(captureCmd)

	bscanCmd := &cobra.Command{
		Use:   "bscan [flags] out.jpg",
		Short: "Run the pipeline and write one product of the first rays as an image",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { bscan(cmd, args[0]) },
	}
	pipelineFlags(bscanCmd.Flags())
	bscanCmd.Flags().StringVarP(&product, "product", "P", "Z", "Product to draw")
	bscanCmd.Flags().IntVarP(&rays, "rays", "n", 360, "Rays to draw")
	rootCmd.AddCommand(bscanCmd)

	filtersCmd := &cobra.Command{Use: "filters", Short: "Manage matched filter stores"}
	filtersCmd.AddCommand(&cobra.Command{
		Use:   "import csvfile gobfile",
		Short: "Import group;origin;maxOutput;taps rows into a filter store",
		Args:  cobra.ExactArgs(2),
		Run:   func(cmd *cobra.Command, args []string) { importCSV(args[0], args[1]) },
	})
	filtersCmd.AddCommand(&cobra.Command{
		Use:   "show gobfile",
		Short: "List the filters of a store",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { showFilters(args[0]) },
	})
	rootCmd.AddCommand(filtersCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Run:   func(cmd *cobra.Command, args []string) { dumpConfig(cmd) },
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tail url",
		Short: "Print rays streamed by a running server",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { tail(args[0]) },
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "noise pulsefile",
		Short: "Estimate the receiver noise power of a recording",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { noise(args[0]) },
	})
}

func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		panic(err)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	if len(args) > 0 {
		cfg.Source.Command = args
	}
	ctx, cancel := signalContext()
	defer cancel()
	p, err := momentrx.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer p.Close()
	log.Printf("run %s: %s source %s", p.Id, p.Source.Info().Kind, p.Source.Info().Id)

	var cs *store.CaptureStore
	if recordDir != "" {
		if cs, err = store.NewCaptureStore(recordDir); err != nil {
			panic(err)
		}
		rc, err := momentrx.NewRecorder(p.Pulses, cs, p.Pulses.GateCapacity(), cfg.Source.PRF)
		if err != nil {
			panic(err)
		}
		donec := make(chan struct{})
		go func() {
			defer close(donec)
			if err := rc.Run(ctx); err != nil {
				log.Println("recorder:", err)
			}
		}()
		defer func() {
			cancel()
			<-donec
			rc.Close()
			log.Printf("recorded %d pulses (%d lost) to %s", rc.Pulses(), rc.Lost(), rc.Path())
		}()
		log.Println("recording to", rc.Path())
	}

	if cfg.HTTP.Addr != "" {
		go func() {
			fmt.Printf("serving http on %s...\n", cfg.HTTP.Addr)
			if err := http.ServeHttp(p, cs, cfg.HTTP.Addr); err != nil {
				log.Println(err)
			}
		}()
	}
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				log.Println(p.Status())
			}
		}
	}()
	if err := p.Serve(ctx); err != nil {
		panic(err)
	}
	log.Println(p.Status())
}

func capture(cmd *cobra.Command, dir string) {
	cfg := loadConfig(cmd)
	cfg.Source.Pulses = pulses
	ctx, cancel := signalContext()
	defer cancel()
	r, err := ring.NewPulseRing(cfg.Pulse.Depth, cfg.Pulse.Gates)
	if err != nil {
		panic(err)
	}
	src, err := radio.NewSource(ctx, cfg.RadioSource())
	if err != nil {
		panic(err)
	}
	defer src.Close()
	cs, err := store.NewCaptureStore(dir)
	if err != nil {
		panic(err)
	}
	rc, err := momentrx.NewRecorder(r, cs, r.GateCapacity(), cfg.Source.PRF)
	if err != nil {
		panic(err)
	}
	defer rc.Close()

	rctx, rcancel := context.WithCancel(context.Background())
	donec := make(chan error, 1)
	go func() { donec <- rc.Run(rctx) }()
	if err := src.Run(ctx, r); err != nil && err != ctx.Err() {
		log.Println("source:", err)
	}
	rcancel()
	if err := <-donec; err != nil {
		panic(err)
	}
	log.Printf("wrote %d pulses (%d lost) to %s", rc.Pulses(), rc.Lost(), rc.Path())
}

func bscan(cmd *cobra.Command, outf string) {
	prod, err := ring.ParseProduct(product)
	if err != nil {
		panic(err)
	}
	cfg := loadConfig(cmd)
	ctx, cancel := signalContext()
	defer cancel()
	p, err := momentrx.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer p.Close()
	b := momentrx.NewBScan(prod, rays)
	p.Rx.Add(b.Sink)
	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for b.Rays() < rays && ctx.Err() == nil {
			<-t.C
		}
		cancel()
	}()
	if err := p.Serve(ctx); err != nil {
		panic(err)
	}
	if err := b.WriteJPEG(outf); err != nil {
		panic(err)
	}
	log.Printf("wrote %d rays of %v to %s", b.Rays(), prod, outf)
}

func importCSV(inf, outf string) {
	f, err := os.Open(inf)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	fs := store.NewFilterStore()
	fs.Load(outf)
	if err := fs.ImportCSV(f); err != nil {
		panic(err)
	}
	if _, err := fs.FilterSet(); err != nil {
		panic(err)
	}
	if err := fs.Save(outf); err != nil {
		panic(err)
	}
}

func showFilters(inf string) {
	fs := store.NewFilterStore()
	if err := fs.Load(inf); err != nil {
		panic(err)
	}
	set, err := fs.FilterSet()
	if err != nil {
		panic(err)
	}
	for gi, g := range set.Groups {
		for fi, f := range g {
			fmt.Printf("group %d filter %d: origin %d length %d max output %d\n",
				gi, fi, f.Origin, f.Length, f.MaxOutput)
		}
	}
}

func dumpConfig(cmd *cobra.Command) {
	if err := config.Dump(os.Stdout, loadConfig(cmd)); err != nil {
		panic(err)
	}
}

func noise(inf string) {
	f, err := os.Open(inf)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	pr, err := radio.NewPulseReader(f)
	if err != nil {
		panic(err)
	}
	r, err := ring.NewPulseRing(1, pr.Gates())
	if err != nil {
		panic(err)
	}
	np := radio.NewNoisePower(pr.Gates())
	for {
		p := r.Claim()
		if _, err := pr.Read(p); err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		r.Publish(p, 0)
		np.Add(p)
	}
	fmt.Printf("%d pulses; noise floor h %.1f v %.1f\n",
		np.Pulses(), np.NoiseFloor(ring.H), np.NoiseFloor(ring.V))
}

func tail(endpoint string) {
	u, err := url.Parse(endpoint)
	if err != nil {
		panic(err)
	}
	c := client.New(*u)
	defer c.Close()
	ctx, cancel := signalContext()
	defer cancel()
	tm, err := c.Status(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s: %s %s, %d gates\n", tm.Id, tm.Source.Kind, tm.Source.Id, tm.Source.Gates)
	rayc, err := c.Rays(ctx)
	if err != nil {
		panic(err)
	}
	for msg := range rayc {
		fmt.Printf("ray %d [%s] az %6.2f el %5.2f: %d pulses %d gates, Z %.1f V %.2f\n",
			msg.Seq, msg.Status, msg.Azimuth, msg.Elevation, msg.Pulses, msg.Gates, msg.MeanZ, msg.MeanV)
	}
}

func main() {
	rootCmd.Execute()
}
