package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const methodScenario = "scenario"

type loadMode string

const (
	modeOrder          loadMode = "order"
	modeOrderPay       loadMode = "order-pay"
	modeOrderPayCancel loadMode = "order-pay-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	variantID   int64
	quantity    int64
	users       int64
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent scenarios")
	fs.DurationVar(&cfg.timeout, "timeout", 75*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeOrder), "load mode: order | order-pay | order-pay-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for order-pay mode (0..100)")
	fs.Int64Var(&cfg.variantID, "variant", 4, "variant id every scenario orders")
	fs.Int64Var(&cfg.quantity, "qty", 1, "quantity per order")
	fs.Int64Var(&cfg.users, "users", 1000, "number of distinct buyers (X-User-Id 1..users)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

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

	switch {
	case strings.TrimSpace(cfg.baseURL) == "":
		return cfg, errors.New("url is required")
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
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case cfg.variantID <= 0:
		return cfg, errors.New("variant must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.users <= 0:
		return cfg, errors.New("users must be > 0")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeOrder:
		return modeOrder, nil
	case modeOrderPay:
		return modeOrderPay, nil
	case modeOrderPayCancel:
		return modeOrderPayCancel, nil
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

	result, err := run(context.Background(), cfg, newAPIClient(cfg.baseURL, cfg.timeout))
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
	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

// run выполняет сценарии конкурентно и в режиме order сверяет остаток до и после.
func run(ctx context.Context, cfg config, client *apiClient) (report, error) {
	initial, err := client.stock(ctx, cfg.variantID)
	if err != nil {
		return report{}, fmt.Errorf("read initial stock: %w", err)
	}

	startedAt := time.Now()
	col := newCollector()
	dispatch(ctx, cfg, func(ctx context.Context, index int) {
		runScenario(ctx, client, cfg, index, col)
	})
	result := col.buildReport(startedAt, time.Since(startedAt))

	if cfg.mode == modeOrder {
		final, err := client.stock(ctx, cfg.variantID)
		if err != nil {
			return result, fmt.Errorf("read final stock: %w", err)
		}
		placed := col.count(methodPlaceOrder, "201")
		expected := initial - placed*cfg.quantity
		result.Stock = &stockCheck{
			VariantID:    cfg.variantID,
			InitialStock: initial,
			FinalStock:   final,
			Placed:       placed,
			Expected:     expected,
			Consistent:   final == expected && final >= 0,
		}
	}
	return result, nil
}

// dispatch запускает сценарии не более чем по concurrency одновременно.
func dispatch(ctx context.Context, cfg config, scenario func(ctx context.Context, index int)) {
	runCtx := ctx
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; ; i++ {
		if cfg.duration <= 0 && i >= cfg.total {
			break
		}
		if cfg.duration > 0 && cfg.totalSet && i >= cfg.total {
			break
		}
		if runCtx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			scenario(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

const (
	methodPlaceOrder = "place_order"
	methodPay        = "pay"
	methodCancel     = "cancel"
)

// runScenario: оформление, затем по режиму оплата и отмена.
// Отказ SOLD_OUT и проигранная гонка за остаток считаются ожидаемым исходом под нагрузкой.
func runScenario(ctx context.Context, client *apiClient, cfg config, index int, col *collector) {
	start := time.Now()
	ownerID := int64(index)%cfg.users + 1
	ok := false
	outcome := "ok"
	defer func() { col.record(methodScenario, time.Since(start), outcome, ok) }()

	callStart := time.Now()
	orderID, res, err := client.placeOrder(ctx, ownerID, cfg.variantID, cfg.quantity)
	placeOK := err == nil && (res.status == http.StatusCreated || expectedRejection(res))
	col.record(methodPlaceOrder, time.Since(callStart), res.outcome(), placeOK)
	if !placeOK {
		outcome = "place_order " + res.outcome()
		return
	}
	if orderID == 0 || cfg.mode == modeOrder {
		ok = true
		return
	}

	callStart = time.Now()
	res, err = client.pay(ctx, ownerID, orderID)
	payOK := err == nil && res.status == http.StatusOK
	col.record(methodPay, time.Since(callStart), res.outcome(), payOK)
	if !payOK {
		outcome = "pay " + res.outcome()
		return
	}

	if cfg.mode == modeOrderPayCancel || (cfg.mode == modeOrderPay && shouldCancelScenario(index, cfg.cancelRate)) {
		callStart = time.Now()
		res, err = client.cancel(ctx, ownerID, orderID)
		// 409: заказ уже отменён компенсацией оплаты
		cancelOK := err == nil && (res.status == http.StatusOK || res.status == http.StatusConflict)
		col.record(methodCancel, time.Since(callStart), res.outcome(), cancelOK)
		if !cancelOK {
			outcome = "cancel " + res.outcome()
			return
		}
	}
	ok = true
}

func expectedRejection(res apiResult) bool {
	return res.status == http.StatusConflict && (res.code == "SOLD_OUT" || res.code == "STOCK_DECREMENT_FAILED")
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
