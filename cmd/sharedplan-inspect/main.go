// sharedplan-inspect is a small CLI for poking at a running sharedplan
// host. It parses command-line flags, fetches diagnostic data from a
// target process exposing the sharedplan debug endpoint, and prints it
// either as a formatted summary or raw JSON. It also supports periodic
// watch mode and pprof snapshot download.
//
// The target Go service is expected to expose:
//   - GET /debug/sharedplan/snapshot  - JSON payload with cache statistics.
//   - GET /debug/pprof/{heap,goroutine} - standard pprof handlers (net/http/pprof).
//
// The snapshot object is intentionally generic; we decode into
// map[string]any to avoid version skew between CLI and library.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"`.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/sharedplan/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// prettyPrint assumes a debug handler response of the shape
// {"stats": GlobalStats, "entries": []EntrySnapshot}. This repository
// does not itself contain a server that serves that endpoint.
func prettyPrint(data map[string]any) error {
	stats, _ := data["stats"].(map[string]any)
	entries, _ := data["entries"].([]any)

	fmt.Printf("entries:        %d\n", len(entries))
	fmt.Printf("rdepend keys:   %v\n", stats["RdependNum"])
	fmt.Printf("arena alloced:  %.2f MiB\n", toFloat(stats["AllocedSize"])/1_048_576)
	fmt.Printf("dealloc sweeps: %v\n", stats["Dealloc"])
	fmt.Printf("stats reset at: %v\n", stats["StatsResetTime"])

	var totalBypass, totalCustom float64
	for _, raw := range entries {
		e, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		totalBypass += toFloat(e["Bypass"])
		totalCustom += toFloat(e["NumCustomPlans"])
	}
	fmt.Printf("total bypasses: %.0f\n", totalBypass)
	fmt.Printf("total customs:  %.0f\n", totalCustom)
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sharedplan-inspect:", err)
	os.Exit(1)
}
