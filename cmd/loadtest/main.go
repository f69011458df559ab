// Command loadtest гоняет сценарии покупателя против HTTP API маркетплейса
// и печатает сводку по латентности и кодам ответов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const envJWTSecret = "MARKET_JWT_SECRET"

type scenario string

const (
	scenarioBrowse         scenario = "browse"
	scenarioCheckout       scenario = "checkout"
	scenarioCheckoutCancel scenario = "checkout-cancel"
)

var knownScenarios = []scenario{scenarioBrowse, scenarioCheckout, scenarioCheckoutCancel}

func (s *scenario) String() string { return string(*s) }

func (s *scenario) Set(value string) error {
	v := scenario(strings.TrimSpace(value))
	if !slices.Contains(knownScenarios, v) {
		return fmt.Errorf("unsupported scenario %q", value)
	}
	*s = v
	return nil
}

// options — параметры прогона. capped означает, что при -duration задан ещё и -total как верхняя граница.
type options struct {
	baseURL     string
	scenario    scenario
	total       int
	duration    time.Duration
	capped      bool
	workers     int
	connections int
	timeout     time.Duration
	cancelRate  int
	secret      string
	productID   string
	merchantID  string
	price       int64
	stock       int
	quantity    int
	customerTag string
	outputPath  string
}

func parseOptions(args []string, getenv func(string) string, out io.Writer) (options, error) {
	opts := options{scenario: scenarioCheckout}

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.baseURL, "addr", "http://localhost:8080", "marketplace API base URL")
	fs.Var(&opts.scenario, "mode", "scenario: browse | checkout | checkout-cancel")
	fs.IntVar(&opts.total, "total", 400, "scenarios to run; with -duration acts as an upper bound when set")
	fs.DurationVar(&opts.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&opts.workers, "concurrency", 40, "concurrent virtual customers")
	fs.IntVar(&opts.connections, "connections", 20, "max HTTP connections to the API host")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.IntVar(&opts.cancelRate, "cancel-rate", 0, "percent of checkout scenarios that cancel the order (0..100)")
	fs.StringVar(&opts.secret, "secret", getenv(envJWTSecret), "JWT signing secret (default $"+envJWTSecret+")")
	fs.StringVar(&opts.productID, "product", "", "existing product id; a new product is created when empty")
	fs.StringVar(&opts.merchantID, "merchant", "load-merchant", "merchant that owns the created product")
	fs.Int64Var(&opts.price, "price", 1000, "price of the created product")
	fs.IntVar(&opts.stock, "stock", 100000, "stock of the created product")
	fs.IntVar(&opts.quantity, "qty", 1, "quantity per checkout")
	fs.StringVar(&opts.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&opts.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" && opts.duration > 0 {
			opts.capped = true
		}
	})

	if err := opts.validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func (o options) validate() error {
	switch {
	case o.duration < 0:
		return errors.New("duration must be >= 0")
	case o.duration == 0 && o.total <= 0:
		return errors.New("total must be > 0 without -duration")
	case o.capped && o.total <= 0:
		return errors.New("total must be > 0 when it caps a timed run")
	case o.workers <= 0:
		return errors.New("concurrency must be > 0")
	case o.connections <= 0:
		return errors.New("connections must be > 0")
	case o.timeout <= 0:
		return errors.New("timeout must be > 0")
	case o.cancelRate < 0 || o.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(o.secret) == "":
		return fmt.Errorf("secret is required (-secret or %s)", envJWTSecret)
	case o.productID == "" && (o.price <= 0 || o.stock <= 0):
		return errors.New("price and stock must be > 0 when the product is created")
	case o.quantity <= 0:
		return errors.New("qty must be > 0")
	case strings.TrimSpace(o.customerTag) == "":
		return errors.New("customer-tag is required")
	}
	return nil
}

// target описывает границу прогона для отчёта.
func (o options) target() string {
	switch {
	case o.duration <= 0:
		return "count:" + strconv.Itoa(o.total)
	case o.capped:
		return fmt.Sprintf("duration:%s,max-total:%d", o.duration, o.total)
	default:
		return "duration:" + o.duration.String()
	}
}

// cancels решает детерминированно: из каждой сотни сценариев отменяются первые cancelRate.
func (o options) cancels(index int) bool {
	if o.scenario == scenarioCheckoutCancel {
		return true
	}
	return o.scenario == scenarioCheckout && index%100 < o.cancelRate
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, opts, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("load test failed")
	}
	if result.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) (report, error) {
	tokens, err := auth.NewTokens(opts.secret, nil)
	if err != nil {
		return report{}, err
	}
	rec := newRecorder()
	client := newAPIClient(opts, tokens, rec)

	productID, err := prepareProduct(client, opts)
	if err != nil {
		return report{}, fmt.Errorf("prepare product: %w", err)
	}

	started := time.Now()
	runID := strconv.FormatInt(started.UnixNano(), 36)

	jobs := make(chan int, opts.workers)
	var wg sync.WaitGroup
	for range opts.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(client, opts, index, runID, productID)
			}
		}()
	}
	feed(ctx, jobs, opts)
	wg.Wait()

	result := rec.report(opts, started, time.Since(started))
	result.print(out)
	if opts.outputPath != "" {
		if err := writeReport(opts.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func prepareProduct(client *apiClient, opts options) (string, error) {
	if opts.productID != "" {
		return opts.productID, nil
	}
	token, err := client.token(opts.merchantID, domain.RoleMerchant)
	if err != nil {
		return "", err
	}
	return client.createProduct(token, opts.price, opts.stock)
}

// feed раздаёт номера сценариев и закрывает jobs, когда прогон исчерпан или ctx отменён.
func feed(ctx context.Context, jobs chan<- int, opts options) {
	defer close(jobs)

	limit := opts.total
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
		if !opts.capped {
			limit = math.MaxInt
		}
	}

	for i := 0; i < limit; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

// runScenario — один покупатель: просмотр каталога либо оформление заказа.
func runScenario(client *apiClient, opts options, index int, runID, productID string) (err error) {
	began := time.Now()
	defer func() { client.rec.observeScenario(time.Since(began), statusOf(err)) }()

	token, err := client.token(fmt.Sprintf("%s-%s-%d", opts.customerTag, runID, index), domain.RoleCustomer)
	if err != nil {
		return err
	}

	if opts.scenario == scenarioBrowse {
		if err := client.browseProducts(token); err != nil {
			return err
		}
		_, err = client.getProduct(token, productID)
		return err
	}

	if err := client.addToCart(token, productID, opts.quantity); err != nil {
		return err
	}
	orderID, err := client.createOrder(token, fmt.Sprintf("lt-%s-%d", runID, index))
	if err != nil {
		return err
	}
	if orderID == "" {
		return errors.New("create order returned empty id")
	}
	if opts.cancels(index) {
		return client.cancelOrder(token, orderID)
	}
	return nil
}
