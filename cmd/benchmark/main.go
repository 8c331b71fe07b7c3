package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/punchamoorthee/bankassist/internal/logger"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	amount      string
	prefix      string
	replayRate  float64
)

var (
	totalRequests uint64
	committed     uint64 // 201
	replayed      uint64 // 201 with Idempotent-Replayed
	conflicts     uint64 // 409 key still in progress
	rejected      uint64 // other 4xx business rejections
	failOther     uint64
)

type latencies struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (l *latencies) add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencies) percentile(p float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0
	}
	sort.Slice(l.samples, func(i, j int) bool { return l.samples[i] < l.samples[j] })
	return l.samples[int(p*float64(len(l.samples)-1))]
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&amount, "amount", "1.00", "Amount of every transfer, in yuan")
	flag.StringVar(&prefix, "prefix", "bench", "Only accounts whose name has this prefix take part; empty uses all")
	flag.Float64Var(&replayRate, "replay", 0.1, "Fraction of requests that resend the previous request with its Idempotency-Key")
}

func main() {
	flag.Parse()
	log := logger.New("development", "info")
	client := &http.Client{Timeout: 5 * time.Second}

	before, err := fetchAccounts(client)
	if err != nil {
		log.Fatal().Err(err).Msg("Fetch accounts failed")
	}
	names := participants(before)
	if len(names) < 2 {
		log.Fatal().Int("accounts", len(names)).Msg("Need at least two accounts; run the seeder with -accounts")
	}

	log.Info().Str("workload", workload).Int("workers", concurrency).Dur("duration", duration).Int("accounts", len(names)).Msg("Starting Benchmark")

	lat := &latencies{}
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, names, lat, start)
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := fetchAccounts(client)
	if err != nil {
		log.Fatal().Err(err).Msg("Fetch accounts failed")
	}
	sumBefore, sumAfter := total(before), total(after)
	if sumBefore != sumAfter {
		log.Error().Int64("before", sumBefore).Int64("after", sumAfter).Msg("Money was not conserved")
	}

	printResults(elapsed, lat, sumBefore, sumAfter)
	if sumBefore != sumAfter {
		os.Exit(1)
	}
}

func worker(wg *sync.WaitGroup, client *http.Client, names []string, lat *latencies, start time.Time) {
	defer wg.Done()

	var key string
	var body []byte
	for time.Since(start) < duration {
		// Resend the previous request now and then to exercise replays.
		if key == "" || rand.Float64() >= replayRate {
			from, to := pickPair(names)
			body, _ = json.Marshal(map[string]string{"from_name": from, "to_name": to, "amount": amount})
			key = uuid.NewString()
		}

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		t0 := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		lat.add(time.Since(t0))

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusCreated && resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&committed, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&conflicts, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&rejected, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickPair(names []string) (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return names[0], names[1]
			}
			return names[1], names[0]
		}
	}

	a := rand.Intn(len(names))
	b := rand.Intn(len(names))
	for a == b {
		b = rand.Intn(len(names))
	}
	return names[a], names[b]
}

func fetchAccounts(client *http.Client) ([]domain.Account, error) {
	resp, err := client.Get(targetURL + "/api/v1/accounts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list accounts: status %d", resp.StatusCode)
	}
	var accounts []domain.Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func participants(accounts []domain.Account) []string {
	var names []string
	for _, a := range accounts {
		if strings.HasPrefix(a.Name, prefix) {
			names = append(names, a.Name)
		}
	}
	return names
}

func total(accounts []domain.Account) int64 {
	var sum int64
	for _, a := range accounts {
		sum += a.Balance
	}
	return sum
}

func printResults(d time.Duration, lat *latencies, sumBefore, sumAfter int64) {
	reqs := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&committed)
	rep := atomic.LoadUint64(&replayed)
	conf := atomic.LoadUint64(&conflicts)
	rej := atomic.LoadUint64(&rejected)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(reqs) / d.Seconds()
	var rejectRate float64
	if reqs > 0 {
		rejectRate = float64(rej) / float64(reqs) * 100
	}
	p50, p99 := lat.percentile(0.50), lat.percentile(0.99)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Workload", "Requests", "TPS", "Committed", "Replayed", "Conflicts", "Rejected", "Errors", "p50 (ms)", "p99 (ms)", "Conserved"})
	table.Append([]string{
		workload,
		fmt.Sprintf("%d", reqs),
		fmt.Sprintf("%.1f", tps),
		fmt.Sprintf("%d", ok),
		fmt.Sprintf("%d", rep),
		fmt.Sprintf("%d", conf),
		fmt.Sprintf("%d (%.1f%%)", rej, rejectRate),
		fmt.Sprintf("%d", fErr),
		fmt.Sprintf("%.2f", float64(p50.Microseconds())/1000),
		fmt.Sprintf("%.2f", float64(p99.Microseconds())/1000),
		fmt.Sprintf("%t", sumBefore == sumAfter),
	})
	table.Render()

	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  reqs,
		"throughput_tps":  tps,
		"committed":       ok,
		"replayed":        rep,
		"conflicts":       conf,
		"rejected":        rej,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
		"p50_ms":          float64(p50.Microseconds()) / 1000,
		"p99_ms":          float64(p99.Microseconds()) / 1000,
		"total_before":    domain.FormatYuan(sumBefore),
		"total_after":     domain.FormatYuan(sumAfter),
		"conserved":       sumBefore == sumAfter,
	}

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "save results: %v\n", err)
		return
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	enc.Encode(results)
	fmt.Printf("Results saved to %s\n", filename)
}
