// Command chatload floods a node with chat messages and reports throughput
// and send latency.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VanDung-dev/HieraMesh/hieramesh/crypto"
	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

// LoadConfig holds configuration for a load run.
type LoadConfig struct {
	Address      string
	Transport    string
	Concurrency  int
	MessageCount int
	Duration     time.Duration
	Signed       bool
	Timeout      time.Duration
	ReportFile   string
}

func main() {
	config := parseFlags()

	fmt.Println("=== HieraMesh Chat Load Test ===")
	fmt.Printf("Target: %s (%s)\n", config.Address, config.Transport)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	if config.MessageCount > 0 {
		fmt.Printf("Messages: %d\n", config.MessageCount)
	} else {
		fmt.Printf("Duration: %v\n", config.Duration)
	}
	fmt.Printf("Signed: %v\n", config.Signed)
	fmt.Println()

	result, err := runLoad(context.Background(), config)
	if err != nil {
		log.Fatalf("Load test failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() LoadConfig {
	config := LoadConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:8080", "Node transport address")
	flag.StringVar(&config.Transport, "transport", "tcp", "tcp or zmq")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.IntVar(&config.MessageCount, "n", 0, "Total number of messages (0 = use -d)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.BoolVar(&config.Signed, "signed", true, "Sign every message")
	flag.DurationVar(&config.Timeout, "timeout", 5*time.Second, "Per-message send timeout")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

// runLoad sends chat frames until MessageCount is reached or Duration
// elapses.
func runLoad(ctx context.Context, config LoadConfig) (Result, error) {
	identity, err := crypto.NewIdentity(uuid.NewString(), "chatload")
	if err != nil {
		return Result{}, err
	}
	transport, err := network.New(config.Transport, "", identity.PeerID)
	if err != nil {
		return Result{}, err
	}
	defer transport.Close()

	if config.MessageCount <= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Duration)
		defer cancel()
	}

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := 0; config.MessageCount <= 0 || i < config.MessageCount; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	var (
		wg    sync.WaitGroup
		stats = newStats()
		start = time.Now()
	)
	for w := 0; w < config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range jobs {
				frame, err := chatFrame(identity, seq, config.Signed)
				if err != nil {
					stats.record(0, err)
					continue
				}
				sendCtx, cancel := context.WithTimeout(context.Background(), config.Timeout)
				began := time.Now()
				err = transport.Send(sendCtx, config.Address, frame)
				cancel()
				stats.record(time.Since(began), err)
				if err != nil {
					// Small sleep on error to avoid hammering
					time.Sleep(10 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()

	return stats.result(time.Since(start)), nil
}

func chatFrame(identity *crypto.Identity, seq int, signed bool) ([]byte, error) {
	chat := protocol.Chat{
		FromID:    identity.PeerID,
		FromName:  identity.Name,
		Content:   fmt.Sprintf("load message %d", seq),
		Timestamp: time.Now().Unix(),
	}
	if !signed {
		return protocol.Encode(chat)
	}
	return protocol.Encode(protocol.SignedChat{
		Chat:      chat,
		Signature: identity.Sign([]byte(chat.Content), chat.Timestamp),
		PublicKey: identity.PublicKey(),
	})
}

func printResults(result Result) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Messages:  %d\n", result.Total)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.Successful, result.percent(result.Successful))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.Failed, result.percent(result.Failed))
	for kind, n := range result.FailuresByKind {
		fmt.Printf("  %-14s %d\n", kind+":", n)
	}
	fmt.Printf("Messages/sec:    %.2f\n", result.PerSecond)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config LoadConfig, result Result) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"transport":   config.Transport,
			"concurrency": config.Concurrency,
			"signed":      config.Signed,
			"duration":    config.Duration.String(),
		},
		"results":   result,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
