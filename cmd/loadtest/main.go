// Command loadtest нагружает HTTP API заказов и проверяет, что остаток товара
// сошёлся с числом успешно зарезервированных единиц.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	ordersPath        = "/api/v1/orders"
	productsPath      = "/api/v1/products/"
	transportError    = "transport_error"
)

type loadMode string

const (
	modeCreate             loadMode = "create"
	modeCreateUpdate       loadMode = "create-update"
	modeCreateUpdateRemove loadMode = "create-update-remove"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	removeRate  int
	productID   int64
	quantity    int
	ownerBase   int64
	idempotent  bool
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type stockReport struct {
	ProductID  int64 `json:"product_id"`
	Before     int   `json:"before"`
	After      int   `json:"after"`
	Reserved   int64 `json:"reserved"`
	Consistent bool  `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockReport             `json:"stock"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает один вызов. status 0 означает, что ответа не было.
func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codes := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codes[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func statusLabel(status int) string {
	if status == 0 {
		return transportError
	}
	return strconv.Itoa(status)
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-update | create-update-remove")
	fs.IntVar(&cfg.removeRate, "remove-rate", 0, "remove probability in percent for create-update mode (0..100)")
	fs.Int64Var(&cfg.productID, "product-id", 1, "catalog product to reserve")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order line")
	fs.Int64Var(&cfg.ownerBase, "owner-base", 1000, "first owner id; scenario index is added to it")
	fs.BoolVar(&cfg.idempotent, "idempotent", true, "send Idempotency-Key on create")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.removeRate < 0 || cfg.removeRate > 100:
		return cfg, errors.New("remove-rate must be between 0 and 100")
	case cfg.productID <= 0:
		return cfg, errors.New("product-id must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.ownerBase <= 0:
		return cfg, errors.New("owner-base must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateUpdate:
		return modeCreateUpdate, nil
	case modeCreateUpdateRemove:
		return modeCreateUpdateRemove, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: cfg.concurrency}}
	result, err := run(context.Background(), cfg, client)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !result.Stock.Consistent {
		os.Exit(1)
	}
}

type runner struct {
	client *http.Client
	cfg    config
	runID  string
	col    *collector
	price  domain.Money
	// reserved — сколько единиц товара должно было уйти со склада по успешным ответам.
	reserved atomic.Int64
}

// run выполняет нагрузку и сверяет остаток товара до и после.
func run(ctx context.Context, cfg config, client *http.Client) (report, error) {
	r := &runner{
		client: client,
		cfg:    cfg,
		runID:  uuid.NewString(),
		col:    newCollector(),
	}

	before, err := r.fetchProduct(ctx)
	if err != nil {
		return report{}, fmt.Errorf("fetch product before run: %w", err)
	}
	if !before.IsActive {
		return report{}, fmt.Errorf("product %d is not active", cfg.productID)
	}
	r.price = before.Price

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = r.runScenario(ctx, index)
			}
		}()
	}
	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	duration := time.Since(startedAt)

	after, err := r.fetchProduct(ctx)
	if err != nil {
		return report{}, fmt.Errorf("fetch product after run: %w", err)
	}

	result := r.col.buildReport(startedAt, duration)
	reserved := r.reserved.Load()
	result.Stock = stockReport{
		ProductID:  cfg.productID,
		Before:     before.StockQuantity,
		After:      after.StockQuantity,
		Reserved:   reserved,
		Consistent: int64(before.StockQuantity-after.StockQuantity) == reserved,
	}
	return result, nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func (r *runner) runScenario(ctx context.Context, index int) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		r.col.record("scenario", time.Since(scenarioStart), scenarioStatus)
	}()

	qty := r.cfg.quantity
	orderID, status, err := r.createOrder(ctx, index, qty)
	if err != nil {
		scenarioStatus = scenarioFailure(status)
		return err
	}
	r.reserved.Add(int64(qty))

	if r.cfg.mode == modeCreate {
		return nil
	}

	qty++
	if status, err := r.updateOrder(ctx, orderID, index, qty); err != nil {
		scenarioStatus = scenarioFailure(status)
		return err
	}
	r.reserved.Add(1)

	if r.cfg.mode == modeCreateUpdateRemove || shouldRemoveScenario(index, r.cfg.removeRate) {
		if status, err := r.removeOrder(ctx, orderID); err != nil {
			scenarioStatus = scenarioFailure(status)
			return err
		}
		r.reserved.Add(-int64(qty))
	}
	return nil
}

type orderBody struct {
	OwnerID int64          `json:"ownerId"`
	Client  map[string]any `json:"client"`
	Lines   []lineBody     `json:"lines"`
}

type lineBody struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unitPrice"`
}

type createdOrder struct {
	ID string `json:"id"`
}

type productBody struct {
	ID            int64        `json:"id"`
	Price         domain.Money `json:"price"`
	StockQuantity int          `json:"stockQuantity"`
	IsActive      bool         `json:"isActive"`
}

func (r *runner) orderBody(index, qty int) orderBody {
	return orderBody{
		OwnerID: r.cfg.ownerBase + int64(index),
		Client: map[string]any{
			"fullName": fmt.Sprintf("load %d", index),
			"email":    fmt.Sprintf("load-%d@example.com", index),
		},
		Lines: []lineBody{{ProductID: r.cfg.productID, Quantity: qty, UnitPrice: r.price}},
	}
}

func (r *runner) createOrder(ctx context.Context, index, qty int) (string, int, error) {
	headers := map[string]string{}
	if r.cfg.idempotent {
		headers[idempotencyHeader] = fmt.Sprintf("lt-create-%s-%d", r.runID, index)
	}

	var created createdOrder
	status, err := r.call(ctx, "CreateOrder", http.MethodPost, ordersPath, headers, r.orderBody(index, qty), &created)
	if err != nil {
		return "", status, err
	}
	if created.ID == "" {
		return "", http.StatusInternalServerError, errors.New("create response returned empty order id")
	}
	return created.ID, status, nil
}

func (r *runner) updateOrder(ctx context.Context, id string, index, qty int) (int, error) {
	return r.call(ctx, "UpdateOrder", http.MethodPut, ordersPath+"/"+id, nil, r.orderBody(index, qty), nil)
}

func (r *runner) removeOrder(ctx context.Context, id string) (int, error) {
	return r.call(ctx, "RemoveOrder", http.MethodDelete, ordersPath+"/"+id, nil, nil, nil)
}

func (r *runner) fetchProduct(ctx context.Context) (productBody, error) {
	var product productBody
	path := productsPath + strconv.FormatInt(r.cfg.productID, 10)
	if _, err := r.call(ctx, "GetProduct", http.MethodGet, path, nil, nil, &product); err != nil {
		return productBody{}, err
	}
	return product, nil
}

// call выполняет запрос с таймаутом и пишет результат в collector.
func (r *runner) call(ctx context.Context, method, httpMethod, path string, headers map[string]string, in, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode %s request: %w", method, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, r.cfg.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(method, time.Since(start), 0)
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	r.col.record(method, time.Since(start), resp.StatusCode)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", method, err)
		}
	}
	return resp.StatusCode, nil
}

// scenarioFailure не даёт засчитать сценарий успешным, если ответ 2xx не удалось разобрать.
func scenarioFailure(status int) int {
	if status >= 200 && status < 300 {
		return http.StatusInternalServerError
	}
	return status
}

func shouldRemoveScenario(index, removeRate int) bool {
	if removeRate <= 0 {
		return false
	}
	if removeRate >= 100 {
		return true
	}
	return index%100 < removeRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(w, "stock product=%d before=%d after=%d reserved=%d consistent=%t\n",
		result.Stock.ProductID,
		result.Stock.Before,
		result.Stock.After,
		result.Stock.Reserved,
		result.Stock.Consistent,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%s\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
			formatCodes(stats.Codes),
		)
	}
}

func formatCodes(codes map[string]int64) string {
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, codes[k]))
	}
	return strings.Join(parts, ",")
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
