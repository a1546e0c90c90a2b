package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/chzchzchz/momentrx/config"
	"github.com/chzchzchz/momentrx/momentrx"
	"github.com/chzchzchz/momentrx/ring"
)

var (
	configPath string
	product    string
	winHeight  int
	resizable  bool
)

var rootCmd = &cobra.Command{
	Use:   "rayscope",
	Short: "Run the pipeline and draw a waterfall of one product per ray.",
	Run:   func(cmd *cobra.Command, args []string) { scope(cmd) },
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Configuration file")
	f.StringVarP(&product, "product", "P", "Z", "Product to draw (Z, V, W, D, P, R, K, Q)")
	f.IntVarP(&winHeight, "window-height", "r", 480, "Total rays to display")
	f.BoolVarP(&resizable, "resize", "R", true, "Window is resizable")
	f.String("source", "", "Pulse source: synthetic, file or cmd")
	f.String("path", "", "Pulse file or FIFO path")
	f.Float64("prf", 0, "Pulse repetition frequency in Hz")
	f.String("estimator", "", "Moment estimator")
}

func scope(cmd *cobra.Command) {
	p, err := ring.ParseProduct(product)
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pl, err := momentrx.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer pl.Close()

	rw, err := newRayWindow(pl.Pulses.GateCapacity(), winHeight, p)
	if err != nil {
		panic(err)
	}
	defer rw.Close()
	pl.Rx.Add(rw.sink)

	donec := make(chan struct{})
	go func() {
		defer close(donec)
		if err := pl.Serve(ctx); err != nil {
			log.Println(err)
		}
	}()
	rw.Run(donec)
	cancel()
	<-donec
	log.Printf("%s; dropped %d rows", pl.Status(), rw.dropped.Load())
}

func main() {
	if err := sdl.Init(sdl.INIT_TIMER | sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		panic(err)
	}
	defer sdl.Quit()
	rootCmd.Execute()
}
