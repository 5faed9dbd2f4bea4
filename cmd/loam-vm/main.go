// Command loam-vm boots a Loam runtime process: it loads a snapshot
// bundle, verifies the bundle's runtime-version constraint, starts the
// isolate registry and runs the entry isolate with the remaining
// command-line arguments as its bootstrap activation.
package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/loam-lang/loam/internal/runtime/bridge"
	"github.com/loam-lang/loam/internal/runtime/isolate"
	"github.com/loam-lang/loam/internal/runtime/loop"
	"github.com/loam-lang/loam/internal/runtime/rtlog"
	"github.com/loam-lang/loam/internal/runtime/wasmcell"
)

// manifest describes a snapshot bundle. It sits next to the snapshot
// as <snapshot>.json and is optional.
type manifest struct {
	Name string `json:"name"`
	// Runtime is a semver constraint the running VM must satisfy,
	// e.g. ">=0.3.0 <1.0.0".
	Runtime string `json:"runtime"`
}

func main() {
	var (
		snapshotPath = flag.String("snapshot", "", "path to the snapshot bundle (required)")
		manifestPath = flag.String("manifest", "", "bundle manifest path (default <snapshot>.json)")
		workers      = flag.Int("workers", 0, "thread pool size (0 = default)")
		bridgeAddr   = flag.String("bridge", "", "listen address for the HTTP/3 message bridge (optional)")
		verbose      = flag.Bool("verbose", false, "enable runtime logging")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "loam-vm: logger:", err)
			os.Exit(1)
		}
		rtlog.SetLogger(logger)
		defer logger.Sync()
	}

	if *snapshotPath == "" {
		fmt.Fprintln(os.Stderr, "loam-vm: -snapshot is required")
		flag.Usage()
		os.Exit(2)
	}
	snapshot, err := os.ReadFile(*snapshotPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loam-vm:", err)
		os.Exit(1)
	}

	mpath := *manifestPath
	if mpath == "" {
		mpath = *snapshotPath + ".json"
	}
	if err := checkManifest(mpath, *manifestPath != ""); err != nil {
		fmt.Fprintln(os.Stderr, "loam-vm:", err)
		os.Exit(1)
	}

	isolate.StartupWithConfig(isolate.Config{PoolWorkers: *workers})
	factory := wasmcell.NewFactory(context.Background())

	iso := isolate.New(snapshot, randomSeed(), factory)

	// Ctrl-C interrupts every live isolate; loops drain and return.
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigC
		rtlog.Logger().Info("interrupt: stopping isolates")
		isolate.InterruptAll()
	}()

	var bridgeSrv *bridge.Server
	if *bridgeAddr != "" {
		p := iso.Loop().OpenPort()
		tlsCfg, err := bridge.GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "loam-vm: bridge tls:", err)
			os.Exit(1)
		}
		bridgeSrv = bridge.NewServer(*bridgeAddr, tlsCfg, iso.Loop(), nil)
		addr, err := bridgeSrv.Start()
		if err != nil {
			fmt.Fprintln(os.Stderr, "loam-vm: bridge:", err)
			os.Exit(1)
		}
		rtlog.Logger().Info("bridge listening",
			zap.String("addr", addr), zap.Uint64("port", uint64(p)))
	}

	iso.Run(loop.NewArgvMessage(loop.InvalidPort, flag.Args()))

	if bridgeSrv != nil {
		_ = bridgeSrv.Stop()
	}
	iso.Dispose()
	isolate.Shutdown()
	_ = factory.Close()
}

// checkManifest enforces the bundle's runtime constraint. A missing
// manifest is an error only when its path was given explicitly.
func checkManifest(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("manifest %s: %w", path, err)
	}
	if m.Runtime == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Runtime)
	if err != nil {
		return fmt.Errorf("manifest %s: bad runtime constraint %q: %w", path, m.Runtime, err)
	}
	version := semver.MustParse(isolate.Version)
	if !constraint.Check(version) {
		return fmt.Errorf("bundle %q requires runtime %q, this VM is %s", m.Name, m.Runtime, isolate.Version)
	}
	return nil
}

func randomSeed() uint64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
