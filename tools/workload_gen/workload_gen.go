package main

// workload_gen.go is a tiny helper utility to generate deterministic
// fingerprint-tuple workloads for standalone benchmarking of sharedplan
// (outside `go test`). It emits newline-separated
// "user_id,db_id,query_id,const_id" rows which can later be replayed
// against a sharedplan host or an external load-testing harness.
//
// Usage:
//
//	go run ./tools/workload_gen -n 1000000 -dist=zipf -seed=42 -out workload.csv
//
// Flags:
//
//	-n       number of rows to generate (default 1e6)
//	-dist    distribution over query_id: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1)  (default 1.2)
//	-zipfv   Zipf v parameter (>=1) (default 1.0)
//	-dbs     number of distinct db_id values to spread rows across (default 4)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
//
// The program is placed under version control so any contributor can
// regenerate the exact workload used in a performance regression hunt.
import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of rows to generate")
		dist    = flag.String("dist", "uniform", "distribution over query_id: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		dbs     = flag.Int("dbs", 4, "number of distinct db_id values")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *dbs <= 0 {
		fmt.Fprintln(os.Stderr, "dbs must be > 0")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var queryGen func() uint64
	switch *dist {
	case "uniform":
		queryGen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		queryGen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		dbID := rnd.Intn(*dbs)
		queryID := queryGen()
		constID := uint32(rnd.Uint32())
		fmt.Fprintf(w, "0,%d,%d,%d\n", dbID, queryID, constID)
	}
}
