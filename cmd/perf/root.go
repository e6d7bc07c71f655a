package perf

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/client"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dMsg servers",
		Long:    "Runs benchmarks against a running dMsg server. The server must accept the configured message type.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfMessageType      uint8 = 1
	perfLargeValueSizeKB       = 100
	perfNumThreads             = 10
	perfSkip                   = make([]string, 0)
)

func init() {
	util.SetupClientFlags(PerfCmd)

	// add flags
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. buffer,replay)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the send-large test should be (in KB)"))
	key = "type"
	PerfCmd.Flags().Uint8(key, 1, util.WrapString("Message type used by the benchmarks"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(_ *cobra.Command, _ []string) error {
	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	perfMessageType = uint8(viper.GetUint("type"))

	if !common.ValidMessageType(perfMessageType) {
		return fmt.Errorf("%w: %d", client.ErrInvalidMessageType, perfMessageType)
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for dMsg servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// the transport benchmarks talk to the server directly
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}
	if err := t.Connect(*config); err != nil {
		return err
	}
	defer t.Close()

	// the buffer benchmark never reaches the network or the disk
	bufferConfig := *config
	bufferConfig.MemorySyncPeriod = 0
	bufferConfig.DiskSyncPeriod = 0
	bufferTransport, err := util.GetClientTransport()
	if err != nil {
		return err
	}
	sender, err := client.NewSender(bufferConfig, bufferTransport, client.WithFs(afero.NewMemMapFs()))
	if err != nil {
		return err
	}
	clientID := sender.ClientID()

	fmt.Println("staring tests...")

	ctx := cmd.Context()
	var seq atomic.Uint64
	results := make(map[string]testing.BenchmarkResult)

	results["buffer"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("buffer") {
			return
		}

		b.Cleanup(sender.Clear)
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := sender.Send(perfMessageType, uniquePayload(&seq, 8)); err != nil {
					log.Printf("(buffer) - error buffering message: %v\n", err)
				}
			}
		})
	})
	printResult("buffer", results["buffer"])

	results["send"] = benchmarkSend(ctx, "send", t, clientID, func() []byte {
		return uniquePayload(&seq, 8)
	})
	printResult("send", results["send"])

	results["send-large"] = benchmarkSend(ctx, "send-large", t, clientID, func() []byte {
		return uniquePayload(&seq, perfLargeValueSizeKB*1024)
	})
	printResult("send-large", results["send-large"])

	// the same message over and over is answered from the dedup store
	replayed := uniquePayload(&seq, 8)
	results["replay"] = benchmarkSend(ctx, "replay", t, clientID, func() []byte {
		return replayed
	})
	printResult("replay", results["replay"])

	if err := sender.Close(); err != nil {
		log.Printf("error closing sender: %v\n", err)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmarkSend measures the round trip of single messages through the transport
func benchmarkSend(ctx context.Context, test string, t transport.IRPCClientTransport, clientID uint64, payload func() []byte) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(test) {
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				status, err := t.Send(ctx, common.NewMessage(clientID, perfMessageType, payload()))
				if err != nil {
					log.Printf("(%s) - error sending message: %v\n", test, err)
				} else if status != common.StatusOK && status != common.StatusAlreadyWritten {
					log.Printf("(%s) - server answered %s\n", test, status)
				}
			}
		})
	})
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// uniquePayload returns a payload of the given size that differs from all previous ones
func uniquePayload(seq *atomic.Uint64, size int) []byte {
	payload := make([]byte, max(size, 8))
	binary.BigEndian.PutUint64(payload, seq.Add(1))
	return payload
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Transport", "PoolSize", "SocketTimeout", "RetryCount",
		"Threads", "LargeValueSizeKB", "MessageType",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint(),
			viper.GetString("transport"),
			strconv.Itoa(config.PoolSize),
			config.SocketTimeout.String(),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(int(perfMessageType)),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
