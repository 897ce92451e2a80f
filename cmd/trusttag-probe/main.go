// Command trusttag-probe simulates a batch of tamper-seal field devices. Each
// simulated package registers itself with its first reading and then reports a
// slowly drifting resistance value; a configurable fraction of readings spike
// far outside the drift band to exercise TAMPERED verdicts downstream.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
)

type reading struct {
	ID  string `json:"id"`
	Res int    `json:"res"`
}

type verdictResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

type device struct {
	id  string
	res int
}

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/api/v1/readings", "readings endpoint")
	count := flag.Int("devices", 5, "number of simulated packages")
	interval := flag.Duration("interval", 2*time.Second, "delay between reporting rounds")
	tamperRate := flag.Float64("tamper-rate", 0.05, "probability a reading spikes outside the drift band")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("trusttag-probe starting",
		"endpoint", *endpoint,
		"devices", *count,
		"interval", *interval,
		"tamper_rate", *tamperRate,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	devices := make([]*device, 0, *count)
	for i := 0; i < *count; i++ {
		devices = append(devices, &device{
			id:  fmt.Sprintf("PKG-%s", ksuid.New().String()),
			res: 8000 + rand.Intn(4000),
		})
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		for _, d := range devices {
			res := d.next(*tamperRate)
			status, err := report(client, *endpoint, reading{ID: d.id, Res: res})
			if err != nil {
				slog.Error("report failed", "id", d.id, "err", err)
				continue
			}
			slog.Info("reading reported", "id", d.id, "res", res, "status", status)
		}
		select {
		case <-ctx.Done():
			slog.Info("trusttag-probe shutting down")
			return
		case <-ticker.C:
		}
	}
}

// next advances the device's resistance by a small random walk, occasionally
// jumping far enough to trip the drift limit.
func (d *device) next(tamperRate float64) int {
	if rand.Float64() < tamperRate {
		d.res += 5000 + rand.Intn(20000)
	} else {
		d.res += rand.Intn(401) - 200
		if d.res < 0 {
			d.res = 0
		}
	}
	return d.res
}

func report(client *http.Client, endpoint string, r reading) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	var vr verdictResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return "", fmt.Errorf("unexpected response %q: %w", raw, err)
	}
	return vr.Status, nil
}
