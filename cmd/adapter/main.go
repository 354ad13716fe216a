// Command adapter boots an EtherNet/IP adapter: the CIP object kernel, the
// connection manager, the encapsulation server, and the ambient stack
// (logging, metrics, configuration) wired together the way the teacher's
// cmd/adapter wired its much smaller object set.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridwell/enip-adapter/internal/config"
	"github.com/gridwell/enip-adapter/internal/log"
	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/eip"
	"github.com/gridwell/enip-adapter/pkg/metrics"
	"github.com/gridwell/enip-adapter/pkg/objects/assembly"
	"github.com/gridwell/enip-adapter/pkg/objects/connmgr"
	"github.com/gridwell/enip-adapter/pkg/objects/ethlink"
	"github.com/gridwell/enip-adapter/pkg/objects/identity"
	"github.com/gridwell/enip-adapter/pkg/objects/qos"
	"github.com/gridwell/enip-adapter/pkg/objects/security"
	"github.com/gridwell/enip-adapter/pkg/objects/tcpip"
	"github.com/gridwell/enip-adapter/pkg/platform"
	"github.com/gridwell/enip-adapter/pkg/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML boot configuration (optional, falls back to built-in defaults)")
		devLog     = flag.Bool("dev", true, "use the human-readable development logger instead of production JSON")
	)
	flag.Parse()

	logger, err := newLogger(*devLog)
	if err != nil {
		os.Exit(1)
	}

	boot := config.Default()
	if *configPath != "" {
		boot, err = config.Load(*configPath)
		if err != nil {
			logger.Errorf("failed to load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	os.MkdirAll(boot.NVDataDir, 0o755)

	reg := cip.NewRegistry()
	metricsReg := metrics.New()
	metricsReg.MustRegister(prometheus.DefaultRegisterer)

	idObj := identity.New(reg, 1, 0x0C, 1, 1, 0, 1, "gridwell enip-adapter")

	tcpipObj := tcpip.New(reg, boot.NVDataDir+"/tcpip.yaml", tcpip.InterfaceConfig{
		IPAddress:   "0.0.0.0",
		NetworkMask: "255.255.255.0",
		HostName:    "enip-adapter",
	})
	_ = tcpipObj
	ethlink.New(reg, 100, true, [6]byte{0x00, 0x1D, 0x9C, 0x00, 0x00, 0x01})
	qos.New(reg, boot.NVDataDir+"/qos.yaml")
	cipSec := security.NewCIPSecurity(reg)
	eipSec := security.NewEIPSecurity(reg, cipSec)
	security.NewCertMgmt(reg, platform.StubCertificateAuthority{})

	io := platform.NewMemoryAssemblyIO()
	asmObj := assembly.New(reg, io)
	asmObj.AddInstance(100, 32)
	asmObj.AddInstance(150, 32)

	clock := platform.SystemClock{}
	sockets := platform.NetSocketFactory{}
	deviceIP := net.ParseIP(boot.DeviceIP)
	cm := connmgr.New(reg, boot.ConnectionPools, io, clock, metricsReg, logger, sockets, deviceIP)
	cm.SetRunIdleHeaders(boot.ProducedRunIdleHeader, boot.ConsumedRunIdleHeader)
	cm.SetDeviceIdentity(idObj.VendorID, idObj.DeviceType, idObj.ProductCode, idObj.MajorRevision, idObj.MinorRevision)

	idObj.OnReset(func(resetType cip.USINT) error {
		logger.Infof("identity reset requested, type=%d", resetType)
		return nil
	})

	eipSec.OnCloseExistingConnections(func(closeDelayMs cip.UDINT) {
		logger.Infof("eip security apply_config: closing existing connections after %dms", closeDelayMs)
		time.AfterFunc(time.Duration(closeDelayMs)*time.Millisecond, cm.CloseAll)
	})

	identityInfo := eip.IdentityInfo{
		VendorID:      1,
		DeviceType:    0x0C,
		ProductCode:   1,
		MajorRevision: 1,
		MinorRevision: 0,
		SerialNumber:  1,
		ProductName:   "gridwell enip-adapter",
		State:         byte(identity.StateOperational),
	}

	srv := server.New(reg, cm, platform.NetSocketFactory{}, clock, logger,
		metricsReg, identityInfo,
		time.Duration(boot.SessionTimeoutSec)*time.Second,
		time.Duration(boot.TickIntervalMs)*time.Millisecond,
	)

	srv.AddTicker(cipSec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.RunMainLoop(ctx)
	go func() {
		if err := srv.Run(ctx, boot.TCPListenAddress, boot.UDPListenAddress, boot.Class1UDPAddress); err != nil {
			logger.Errorf("encapsulation server stopped: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(boot.MetricsListenAddr, mux); err != nil {
			logger.Warnf("metrics listener stopped: %v", err)
		}
	}()

	logger.Infof("adapter listening tcp=%s udp=%s metrics=%s", boot.TCPListenAddress, boot.UDPListenAddress, boot.MetricsListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infof("shutting down")
}

func newLogger(dev bool) (log.Logger, error) {
	if dev {
		return log.NewDevelopment()
	}
	return log.New()
}
