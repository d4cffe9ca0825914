package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(pipeCmd)
	rootCmd.AddCommand(loopbackCmd)
	pipeCmd.Flags().StringVar(&pipeTx, "tx", "loop_tx", "transmit channel name")
	pipeCmd.Flags().StringVar(&pipeRx, "rx", "loop_rx", "receive channel name")
	loopbackCmd.Flags().IntVarP(&loopTrials, "trials", "n", 100000, "number of packets")
	loopbackCmd.Flags().IntVarP(&loopSize, "size", "s", 4096, "packet size in bytes")
	loopbackCmd.Flags().StringVar(&loopTx, "tx", "loop_tx", "transmit channel name")
	loopbackCmd.Flags().StringVar(&loopRx, "rx", "loop_rx", "receive channel name")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured channels",
	Run: func(cmd *cobra.Command, args []string) {
		p, err := probePlatform()
		if err != nil {
			logErr(cmd, err)
			os.Exit(1)
		}
		for _, n := range p.Nodes() {
			ch := n.Channel()
			stats := ch.Stats()
			fmt.Printf("%-16s %-4s %-8s sent=%d rcvd=%d\n",
				n.Name(), ch.Dir(), n.Devno(), stats.PacketsSent, stats.PacketsRcvd)
		}
	},
}

var (
	pipeTx string
	pipeRx string
)

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Copy stdin to stdout through a loopback FIFO, one DMA pair per packet",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPipe(); err != nil {
			logErr(cmd, err)
			os.Exit(1)
		}
	},
}

func runPipe() error {
	ctx, stop := signalContext()
	defer stop()

	p, err := probePlatform()
	if err != nil {
		return err
	}
	defer p.Teardown(ctx)

	txNode, err := p.Node(pipeTx)
	if err != nil {
		return err
	}
	rxNode, err := p.Node(pipeRx)
	if err != nil {
		return err
	}

	tx, err := txNode.Open(ctx)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)
	rx, err := rxNode.Open(ctx)
	if err != nil {
		return err
	}
	defer rx.Close(ctx)

	buf := make([]byte, 4096)
	out := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, err := tx.Write(ctx, buf[:n]); err != nil {
				return err
			}
			if _, err := rx.Read(ctx, out[:n]); err != nil {
				return err
			}
			if _, err := os.Stdout.Write(out[:n]); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var (
	loopTrials int
	loopSize   int
	loopTx     string
	loopRx     string
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Run the loopback speed test",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoopback(); err != nil {
			logErr(cmd, err)
			os.Exit(1)
		}
	},
}

func runLoopback() error {
	ctx, stop := signalContext()
	defer stop()

	p, err := probePlatform()
	if err != nil {
		return err
	}
	defer p.Teardown(ctx)

	txNode, err := p.Node(loopTx)
	if err != nil {
		return err
	}
	rxNode, err := p.Node(loopRx)
	if err != nil {
		return err
	}

	tx, err := txNode.Open(ctx)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)
	rx, err := rxNode.Open(ctx)
	if err != nil {
		return err
	}
	defer rx.Close(ctx)

	txBuf := make([]byte, loopSize)
	rxBuf := make([]byte, loopSize)
	for i := range txBuf {
		txBuf[i] = byte(i) // automatically mod-256
	}

	tick := time.Now()
	for i := 0; i < loopTrials; i++ {
		if _, err := tx.Write(ctx, txBuf); err != nil {
			return err
		}
		if _, err := rx.Read(ctx, rxBuf); err != nil {
			return err
		}
		for j := range rxBuf {
			if rxBuf[j] != txBuf[j] {
				return fmt.Errorf("data error @ trial %d byte %d: rx %d, tx %d",
					i, j, rxBuf[j], txBuf[j])
			}
		}
		txBuf[i%loopSize] += 5 // modify data each time
	}
	elapsed := time.Since(tick)

	numBytes := float64(loopTrials) * float64(loopSize)
	mbPerSec := numBytes / float64(1<<20) / elapsed.Seconds()
	fmt.Printf("sent %d %d-byte packets in %.9f sec: %.3f MB/s\n",
		loopTrials, loopSize, elapsed.Seconds(), mbPerSec)
	return nil
}
