package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/blocksim/blocksim/app/services/simulator/handlers"
	"github.com/blocksim/blocksim/foundation/blockchain/archive"
	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
	"github.com/blocksim/blocksim/foundation/blockchain/orchestrator"
	"github.com/blocksim/blocksim/foundation/events"
	"github.com/blocksim/blocksim/foundation/logger"
	"github.com/blocksim/blocksim/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags
// in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("SIMULATOR")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
		}
		Sim struct {
			Population     int           `conf:"default:5"`
			Rounds         int           `conf:"default:12"`
			Seed           int64         `conf:"default:1"`
			RoundTimeout   time.Duration `conf:"default:5m"`
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			AccountsFolder string        `conf:"default:zblock/accounts/"`
			ArchivePath    string        `conf:"default:zblock/archive"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work consensus simulator",
		},
	}

	const prefix = "SIM"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(` ____  _     ___   ____ _  ______ ___ __  __ `)
	fmt.Println(`| __ )| |   / _ \ / ___| |/ / ___|_ _|  \/  |`)
	fmt.Println(`|  _ \| |  | | | | |   | ' /\___ \| || |\/| |`)
	fmt.Println(`| |_) | |__| |_| | |___| . \ ___) | || |  | |`)
	fmt.Println(`|____/|_____\___/ \____|_|\_\____/___|_|  |_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Genesis and Identities

	gen, err := genesis.Load(cfg.Sim.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis document: %w", err)
	}

	// Every node needs a key pair. Reuse key files from a previous run
	// when they exist so account addresses stay stable.
	identities, err := loadIdentities(cfg.Sim.AccountsFolder, cfg.Sim.Population)
	if err != nil {
		return fmt.Errorf("unable to load node identities: %w", err)
	}

	// The nameservice resolves account addresses back to node names so
	// the logs stay readable.
	ns, err := nameservice.New(cfg.Sim.AccountsFolder)
	if err != nil {
		return fmt.Errorf("unable to load name service: %w", err)
	}

	for accountID, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", accountID)
	}

	// =========================================================================
	// Simulation Support

	// The core packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any
	// websocket client connected through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s)
		evts.Send(s)
	}

	orc, err := orchestrator.New(orchestrator.Config{
		Genesis:      gen,
		Identities:   identities,
		Seed:         cfg.Sim.Seed,
		RoundTimeout: cfg.Sim.RoundTimeout,
		EvHandler:    ev,
	})
	if err != nil {
		return fmt.Errorf("constructing orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orc.Start(ctx)
	defer orc.Shutdown()

	// Run the rounds on their own G. The viewer keeps serving after the
	// run completes so the final chains can be inspected.
	runComplete := make(chan error, 1)
	go func() {
		summary, err := orc.Run(ctx, cfg.Sim.Rounds)
		if err != nil {
			runComplete <- err
			return
		}

		log.Infow("simulation complete",
			"runid", summary.RunID,
			"converged", summary.Converged,
			"height", summary.Height,
			"tip", summary.TipHash,
			"mean_attempts", summary.MeanAttempts,
			"stddev_attempts", summary.StdDevAttempts,
			"mean_duration", summary.MeanDuration,
			"stddev_duration", summary.StdDevDuration,
		)

		runComplete <- archiveRun(cfg.Sim.ArchivePath, orc, identities[0].Name)
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start Viewer Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	viewerMux := handlers.PublicMux(handlers.MuxConfig{
		Log:  log,
		Orc:  orc,
		NS:   ns,
		Evts: evts,
	})

	viewer := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      viewerMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "viewer router started", "host", viewer.Addr)
		serverErrors <- viewer.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case err := <-runComplete:
			if err != nil {
				return fmt.Errorf("simulation error: %w", err)
			}
			log.Infow("startup", "status", "run complete, viewer still serving")
			runComplete = nil

		case sig := <-shutdown:
			log.Infow("shutdown", "status", "shutdown started", "signal", sig)
			defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

			// Interrupt any in-flight mining search.
			cancel()

			// Release any web sockets that are currently active.
			evts.Shutdown()

			// Give outstanding requests a deadline for completion.
			ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancelShutdown()

			if err := viewer.Shutdown(ctx); err != nil {
				viewer.Close()
				return fmt.Errorf("could not stop viewer gracefully: %w", err)
			}

			return nil
		}
	}
}

// loadIdentities loads or creates a key pair file for every node of the
// population.
func loadIdentities(folder string, population int) ([]orchestrator.Identity, error) {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("creating accounts folder: %w", err)
	}

	identities := make([]orchestrator.Identity, 0, population)

	for i := 1; i <= population; i++ {
		name := fmt.Sprintf("node%d", i)
		path := filepath.Join(folder, name+".ecdsa")

		privateKey, err := crypto.LoadECDSA(path)
		if err != nil {
			privateKey, err = crypto.GenerateKey()
			if err != nil {
				return nil, fmt.Errorf("generating key for %s: %w", name, err)
			}
			if err := crypto.SaveECDSA(path, privateKey); err != nil {
				return nil, fmt.Errorf("saving key for %s: %w", name, err)
			}
		}

		identities = append(identities, orchestrator.Identity{
			Name:       name,
			PrivateKey: privateKey,
		})
	}

	return identities, nil
}

// archiveRun exports one replica of the converged chain so the admin
// tooling can inspect it after the process exits.
func archiveRun(path string, orc *orchestrator.Orchestrator, nodeName string) error {
	blocks, err := orc.NodeChain(nodeName)
	if err != nil {
		return fmt.Errorf("reading chain for archive: %w", err)
	}

	arc, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer arc.Close()

	if err := arc.WriteChain(blocks); err != nil {
		return fmt.Errorf("archiving chain: %w", err)
	}

	return nil
}
