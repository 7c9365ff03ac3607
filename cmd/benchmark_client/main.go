// Command benchmark_client generates synthetic load against a running
// replica's mempool port (spec §6: "benchmark_client ADDR --id N --size B
// --rate R --timeout T [--nodes ADDRS…]"), the YCSB-style client pattern
// common across the retrieval pack's benchmarking tools.
package main

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanguardbft/consensus/wire"
)

func main() {
	var id uint64
	var size int
	var rate float64
	var timeout time.Duration
	var nodes []string

	cmd := &cobra.Command{
		Use:   "benchmark_client ADDR",
		Short: "Generate sample transaction load against a replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], id, size, rate, timeout, nodes)
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "client identifier embedded in generated transactions")
	cmd.Flags().IntVar(&size, "size", 512, "transaction size in bytes")
	cmd.Flags().Float64Var(&rate, "rate", 100, "target transactions per second")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "benchmark duration")
	cmd.Flags().StringSliceVar(&nodes, "nodes", nil, "additional mempool addresses to verify liveness against")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string, id uint64, size int, rate float64, timeout time.Duration, nodes []string) error {
	if size < 9 {
		return fmt.Errorf("benchmark_client: --size must be at least %d (min transaction size)", 9)
	}
	// Wait until every --nodes address accepts a connection before
	// starting the load.
	for _, n := range nodes {
		for {
			conn, err := net.DialTimeout("tcp", n, time.Second)
			if err == nil {
				conn.Close()
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
	interval := time.Duration(float64(time.Second) / rate)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent, seq uint64
	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		tx := sampleTransaction(size, id, seq)
		seq++
		if err := sendTransaction(addr, tx); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			continue
		}
		sent++
	}
	fmt.Printf("client %d: sent %d transactions to %s\n", id, sent, addr)
	return nil
}

// sampleTransaction builds a transaction with byte 0 set to the sample
// marker (spec §6: "byte 0 may be used as a sample marker (0x00 =
// sample)"), followed by client id and sequence number so throughput
// tools can dedupe and measure latency.
func sampleTransaction(size int, id, seq uint64) []byte {
	buf := make([]byte, size)
	buf[0] = 0x00
	binary.BigEndian.PutUint64(buf[1:9], id)
	if size >= 17 {
		binary.BigEndian.PutUint64(buf[9:17], seq)
	}
	if size > 17 {
		rand.New(rand.NewSource(int64(id)<<32 | int64(seq))).Read(buf[17:])
	}
	return buf
}

// sendTransaction frames tx as a single raw length-delimited frame on the
// replica's client-facing port, distinct from the inter-replica
// wire.Message tagged union (spec §6: "Client transaction format: Raw
// bytes ... No further structure imposed").
func sendTransaction(addr string, tx []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.WriteFrame(conn, tx)
}
