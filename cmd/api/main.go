package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verano.shop/internal/admingate"
	"verano.shop/internal/cart"
	"verano.shop/internal/catalog"
	"verano.shop/internal/config"
	"verano.shop/internal/httpapi"
	"verano.shop/internal/obs"
	"verano.shop/internal/orders"
	"verano.shop/internal/seclog"
	"verano.shop/internal/session"
	"verano.shop/internal/store/pg"
	"verano.shop/internal/stream"
)

var version = "0.3.1"

type proberFunc func(context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("VERANO_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.AuthSecret == "" {
		log.Fatal("VERANO_AUTH_SECRET is required")
	}

	parser, err := session.NewParser(cfg.AuthSecret, cfg.AuthIssuer)
	if err != nil {
		log.Fatalf("session parser: %v", err)
	}

	// Storage: Postgres when a DSN is set, in-memory otherwise.
	var (
		products catalog.Service
		book     orders.Service
		prober   admingate.Prober
		probe    httpapi.ReadyProbe
		closeDB  = func() {}
	)
	if cfg.DatabaseURL != "" {
		store, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		products = store.Catalog()
		book = store.Orders()
		prober = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeDB = func() { _ = store.Close() }
	} else {
		log.Println("VERANO_PG_DSN not set, using in-memory stores")
		products = catalog.NewInMemory()
		book = orders.NewInMemory()
		prober = proberFunc(func(context.Context) error { return nil })
	}

	secOpts := []seclog.Option{seclog.WithProduction(cfg.Production)}
	if cfg.SecurityLogURL != "" {
		secOpts = append(secOpts, seclog.WithRemote(cfg.SecurityLogURL))
	}
	events := seclog.New(secOpts...)

	allow := admingate.DefaultAllowlist()
	if len(cfg.AdminAllowlist) > 0 {
		allow = admingate.NewAllowlist(cfg.AdminAllowlist...)
	}
	policy := admingate.NewPolicy(
		session.NewCachedStore(session.NewTokenStore(parser, ""), cfg.Revalidate),
		allow, prober, events, cfg.ProbeTimeout)
	gate := admingate.NewGate(policy, events,
		admingate.WithSignInPath(cfg.SignInPath),
		admingate.WithRevalidateEvery(cfg.Revalidate))

	ctx, cancelGate := context.WithCancel(context.Background())
	stopGate := gate.Start(ctx)
	defer func() {
		stopGate()
		cancelGate()
	}()

	activity := stream.New()
	api := httpapi.New(probe, version, httpapi.Deps{
		Parser:   parser,
		Gate:     gate,
		Events:   events,
		Products: products,
		Orders:   book,
		Carts:    cart.NewService(products, book),
		Activity: activity,

		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health endpoint for orchestrators.
	grpcSrv, stopHealth := httpapi.NewGRPCServer(probe, 10*time.Second)
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()

	log.Printf("Starting verano-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	stopHealth()
	grpcSrv.GracefulStop()
	closeDB()
	log.Println("Stopped")
}
