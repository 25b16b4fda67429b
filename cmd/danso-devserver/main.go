package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"danso/internal/devserver"
	"danso/internal/util"
)

func ptr(v float64) *float64 { return &v }

var companies = []devserver.CompanyDetails{
	{Ticker: "AAPL", Name: "Apple Inc.", Industry: "Electronic Computers",
		Description: "Designs and sells smartphones, personal computers, tablets and wearables.",
		Financials:  devserver.Financials{MarketCap: ptr(2.95e12), PERatio: ptr(29.4), PSRatio: ptr(7.6), DividendYield: ptr(0.44)}},
	{Ticker: "MSFT", Name: "Microsoft Corporation", Industry: "Services-Prepackaged Software",
		Description: "Develops software, cloud services and devices.",
		Financials:  devserver.Financials{MarketCap: ptr(3.05e12), PERatio: ptr(35.1), PSRatio: ptr(12.9), DividendYield: ptr(0.72)}},
	{Ticker: "NVDA", Name: "NVIDIA Corporation", Industry: "Semiconductors & Related Devices",
		Description: "Designs graphics processors and accelerated computing platforms.",
		Financials:  devserver.Financials{MarketCap: ptr(2.98e12), PERatio: ptr(68.2)}},
	{Ticker: "TSLA", Name: "Tesla, Inc.", Industry: "Motor Vehicles & Passenger Car Bodies",
		Description: "Builds electric vehicles and energy storage systems."},
}

func main() {
	addr := flag.String("addr", ":5000", "HTTP listen address")
	grpcAddr := flag.String("grpc-addr", ":50051", "gRPC listen address (empty disables)")
	step := flag.Duration("step", 2*time.Second, "simulation step interval")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "simulation seed")
	level := flag.String("log-level", "info", "log level")
	logPath := flag.String("log-file", "", "also log to this rotating file")
	flag.Parse()

	var w io.Writer = os.Stdout
	if *logPath != "" {
		lf := util.NewRotatingFile(*logPath, 50, 3)
		defer lf.Close()
		w = io.MultiWriter(os.Stdout, lf)
	}
	logger := util.NewLogger(*level, "text", w)
	util.SetDefault(logger)

	board := devserver.NewBoard()
	for _, d := range companies {
		board.SetDetails(d)
	}
	srv := devserver.New(board, logger)
	sim := devserver.NewSimulator(srv, *seed, *step, map[string]float64{
		"AAPL": 190.12,
		"MSFT": 410.50,
		"NVDA": 121.44,
		"TSLA": 248.03,
		"AMD":  158.70,
		"PLTR": 24.91,
		"SOFI": 7.36,
	}, logger.With("component", "simulator"))

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.Run(ctx) })
	g.Go(func() error {
		logger.Info("devserver listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if *grpcAddr != "" {
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			log.Fatalf("listening on %s: %v", *grpcAddr, err)
		}
		gs := grpc.NewServer()
		srv.RegisterGRPC(gs)
		g.Go(func() error {
			logger.Info("grpc push listening", "addr", *grpcAddr)
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("devserver stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("devserver stopped")
}
