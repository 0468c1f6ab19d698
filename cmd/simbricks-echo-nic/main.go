// File: cmd/simbricks-echo-nic/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Command simbricks-echo-nic wires urlconf and nicbm together over a
// loopback SHM pool: one side plays a minimal echo NIC device, the other
// plays a host that issues a single BAR read and one network packet, so
// the full C1–C8 stack runs end to end in one process. It is a
// demonstration only, the same role the teacher's examples/reactor_echo
// and examples/echo binaries play for that library — exercising the
// stack, not shipping a product. No CLI framework is used, matching
// every example main.go in the teacher's own examples/ tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/simbricks/simbricks-go/channel"
	"github.com/simbricks/simbricks-go/internal/obs"
	"github.com/simbricks/simbricks-go/nicbm"
	"github.com/simbricks/simbricks-go/proto/network"
	"github.com/simbricks/simbricks-go/proto/pcie"
	"github.com/simbricks/simbricks-go/scheduler"
	"github.com/simbricks/simbricks-go/urlconf"
)

func main() {
	dir := flag.String("dir", "", "directory for sockets and the SHM pool (default: a fresh temp dir)")
	sync := flag.Bool("sync", true, "negotiate sync mode on both channels")
	syncInterval := flag.Uint64("sync-interval", 100, "sync heartbeat interval, virtual-time units")
	latency := flag.Uint64("latency", 10, "link latency, virtual-time units")
	runFor := flag.Uint64("run-for", 1000, "virtual time to advance before exiting")
	flag.Parse()

	if err := run(*dir, *sync, *syncInterval, *latency, *runFor); err != nil {
		fmt.Fprintln(os.Stderr, "simbricks-echo-nic:", err)
		os.Exit(1)
	}
}

func run(dir string, sync bool, syncInterval, latency, runFor uint64) error {
	log := obs.NewLogger("echo-nic")
	metrics := obs.NewMetrics()

	if dir == "" {
		d, err := os.MkdirTemp("", "simbricks-echo-nic-")
		if err != nil {
			return fmt.Errorf("mkdir temp: %w", err)
		}
		defer os.RemoveAll(d)
		dir = d
	}

	pcieSock := filepath.Join(dir, "pcie.sock")
	netSock := filepath.Join(dir, "net.sock")
	poolPath := filepath.Join(dir, "pool.shm")

	opts := fmt.Sprintf("sync=%t:latency=%d:sync_interval=%d", sync, latency, syncInterval)
	urls := []string{
		"listen:" + pcieSock + ":" + opts,
		"connect:" + pcieSock + ":" + opts,
		"listen:" + netSock + ":" + opts,
		"connect:" + netSock + ":" + opts,
	}

	channels, err := urlconf.Establish(context.Background(), urls, poolPath)
	if err != nil {
		return fmt.Errorf("establish: %w", err)
	}
	devicePCIe, hostPCIe := channels[0], channels[1]
	deviceNet, hostNet := channels[2], channels[3]

	maxStep := channel.Ts(latency + syncInterval + 1)
	loop, err := scheduler.NewLoop([]*channel.Channel{devicePCIe, deviceNet}, nil, maxStep, log)
	if err != nil {
		return fmt.Errorf("new loop: %w", err)
	}

	device := &echoDevice{log: log, metrics: metrics}
	rt := nicbm.NewRuntime(loop, devicePCIe, deviceNet, device, nil, log)
	device.rt = rt
	loop.SetDispatcher(rt)

	if e, ok := hostPCIe.OutAlloc(0); ok {
		pcie.SetRead(e, 1, 0x0, 4, 0)
		hostPCIe.OutSend(e, pcie.TypeRead)
	}
	if e, ok := hostNet.OutAlloc(0); ok {
		network.SetPacket(e, 0, []byte("hello-nic"))
		hostNet.OutSend(e, network.TypePacket)
	}

	stopAt := channel.Ts(runFor)
	loop.ScheduleEvent(stopAt, func(channel.Ts) { loop.Stop() })
	if err := loop.Run(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	metrics.SchedulerTicks.Add(1)

	if comp, ok := hostPCIe.InPoll(stopAt); ok {
		log.WithField("type", fmt.Sprintf("%#x", comp.Type())).Info("host observed a PCIe reply")
	}
	if pkt, ok := hostNet.InPoll(stopAt); ok {
		log.WithField("data", string(network.NewPacket(pkt).Data())).Info("host observed an echoed packet")
	}
	return nil
}

// echoDevice is the minimal nicbm.Device this demo exercises: it answers
// BAR reads with zeroes and echoes every received frame back out.
type echoDevice struct {
	log     *logrus.Entry
	metrics *obs.Metrics
	rt      *nicbm.Runtime
}

func (d *echoDevice) RegRead(bar uint8, off, length uint64) ([]byte, error) {
	return make([]byte, length), nil
}

func (d *echoDevice) RegWrite(bar uint8, off uint64, data []byte) error {
	d.log.WithField("off", off).Info("register write")
	return nil
}

func (d *echoDevice) DMAComplete(op *nicbm.DMAOp) {
	d.log.WithField("req_id", op.ReqID).Info("DMA complete")
}

func (d *echoDevice) EthRx(ts channel.Ts, port uint32, data []byte) {
	d.metrics.DMAInFlight.WithLabelValues("echo-nic").Set(float64(d.rt.InFlightCount()))
	if err := d.rt.EthSend(ts, data); err != nil {
		d.log.WithError(err).Warn("echo dropped: ring full")
	}
}

func (d *echoDevice) DevctrlUpdate(ts channel.Ts, flags uint64) {
	d.log.WithField("flags", flags).Info("devctrl update")
}

func (d *echoDevice) Timed(ts channel.Ts, payload any) {
	d.log.WithField("payload", payload).Info("timed event fired")
}

func (d *echoDevice) SetupIntro(peerIntro []byte) []byte { return nil }
