package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/app"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/queue"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// configPaths allows multiple -config flags, later files overriding earlier
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (repeatable, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

const usage = `Usage: specforge [flags] <command> [args]

Rule pack:
  compile <category> [-dry-run]        Compile source inputs into a rule pack
  validate <category>                  Validate a compiled pack
  rules-diff <category>                Classify pending changes (safe/potentially_breaking/breaking)
  watch-compile <category>             Watch sources and recompile on change
  init-category <category>             Scaffold a new category
  list-fields <category>               List pack fields in workbook order
  field-report <category> <field>      Full policy view of one field

Runs:
  run -job <file>                      Run one product from a job input file
  run-until-complete                   Drain the product queue

Queue and batches:
  queue-add -job <file> [-priority N]  Store a job input and enqueue the product
  queue-list                           List queue contents
  queue-run                            Process one queue product
  batch-create -category C -products a,b,c
  batch-run -id <batchId>              Start a batch and drain it
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion {
		fmt.Printf("SpecForge version %s\n", common.GetFullVersion())
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("specforge.toml"); err == nil {
			configFiles = append(configFiles, "specforge.toml")
		}
	}

	var err error
	config, err = common.LoadConfig(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	exitCode := dispatch(ctx, command, rest)
	os.Exit(exitCode)
}

func dispatch(ctx context.Context, command string, args []string) int {
	switch command {
	case "compile":
		return cmdCompile(args)
	case "validate":
		return cmdValidate(args)
	case "rules-diff":
		return cmdRulesDiff(args)
	case "watch-compile":
		return cmdWatchCompile(ctx, args)
	case "init-category":
		return cmdInitCategory(args)
	case "list-fields":
		return cmdListFields(args)
	case "field-report":
		return cmdFieldReport(args)
	case "run":
		return cmdRun(ctx, args)
	case "run-until-complete":
		return cmdRunUntilComplete(ctx)
	case "queue-add":
		return cmdQueueAdd(ctx, args)
	case "queue-list":
		return cmdQueueList()
	case "queue-run":
		return cmdQueueRun(ctx)
	case "batch-create":
		return cmdBatchCreate(args)
	case "batch-run":
		return cmdBatchRun(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", command, usage)
		return 2
	}
}

// printJSON writes a result to stdout and converts its envelope into an
// exit code: 0 on success, 1 when the envelope carries errors
func printJSON(result interface{}, envelope models.Envelope) int {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	if !envelope.OK || len(envelope.Errors) > 0 {
		return 1
	}
	return 0
}

func fail(err error) int {
	logger.Error().Err(err).Msg("Command failed")
	return 1
}

func requireArg(args []string, name string) (string, bool) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintf(os.Stderr, "missing required argument: %s\n", name)
		return "", false
	}
	return args[0], true
}

func cmdCompile(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	flags := flag.NewFlagSet("compile", flag.ExitOnError)
	dryRun := flags.Bool("dry-run", false, "Stage and diff without writing")
	flags.Parse(args[1:])

	compiler := rulepack.NewCompiler(config.Helper.Root, logger)
	result, err := compiler.Compile(categoryName, *dryRun)
	if err != nil {
		return fail(err)
	}
	return printJSON(result, result.Envelope)
}

func cmdValidate(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	result := rulepack.Validate(config.Helper.Root, categoryName, logger)
	return printJSON(result, result.Envelope)
}

func cmdRulesDiff(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	compiler := rulepack.NewCompiler(config.Helper.Root, logger)
	result, err := compiler.RulesDiff(categoryName)
	if err != nil {
		return fail(err)
	}
	return printJSON(result, result.Envelope)
}

func cmdWatchCompile(ctx context.Context, args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	flags := flag.NewFlagSet("watch-compile", flag.ExitOnError)
	debounceMs := flags.Int("debounce-ms", 500, "Coalesce filesystem events within this window")
	maxEvents := flags.Int("max-events", 0, "Stop after this many compiles (0 = unbounded)")
	watchSeconds := flags.Int("watch-seconds", 0, "Stop after this much wall clock (0 = unbounded)")
	flags.Parse(args[1:])

	compiler := rulepack.NewCompiler(config.Helper.Root, logger)
	result, err := compiler.WatchCompile(ctx, categoryName, rulepack.WatchOptions{
		DebounceMs:   *debounceMs,
		MaxEvents:    *maxEvents,
		WatchSeconds: *watchSeconds,
	}, func(event rulepack.WatchEvent) {
		encoded, _ := json.Marshal(event)
		fmt.Println(string(encoded))
	})
	if err != nil {
		return fail(err)
	}
	envelope := models.SuccessEnvelope()
	if result.StopReason == "watcher_error" || result.StopReason == "compile_failed" {
		envelope = models.ErrorEnvelope(result.StopReason + ": " + result.LastError)
	}
	return printJSON(result, envelope)
}

func cmdInitCategory(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	result := rulepack.InitCategory(config.Helper.Root, categoryName, logger)
	return printJSON(result, result.Envelope)
}

func cmdListFields(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	pack, err := rulepack.NewLoader().Load(config.Helper.Root, categoryName)
	if err != nil {
		return fail(err)
	}
	return printJSON(rulepack.ListFields(pack), models.SuccessEnvelope())
}

func cmdFieldReport(args []string) int {
	categoryName, ok := requireArg(args, "category")
	if !ok {
		return 2
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "missing required argument: field")
		return 2
	}
	pack, err := rulepack.NewLoader().Load(config.Helper.Root, categoryName)
	if err != nil {
		return fail(err)
	}
	result := rulepack.FieldReport(pack, args[1])
	return printJSON(result, result.Envelope)
}

func newApp(ctx context.Context) (*app.App, int) {
	a, err := app.New(ctx, config, logger)
	if err != nil {
		return nil, fail(err)
	}
	return a, 0
}

func loadJobFile(path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	return &job, nil
}

func cmdRun(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	jobPath := flags.String("job", "", "Job input JSON file")
	flags.Parse(args)
	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "run requires -job <file>")
		return 2
	}

	job, err := loadJobFile(*jobPath)
	if err != nil {
		return fail(err)
	}

	a, code := newApp(ctx)
	if a == nil {
		return code
	}
	defer a.Close()

	result, err := a.RunJob(ctx, job)
	if err != nil {
		return fail(err)
	}
	envelope := models.SuccessEnvelope()
	if result.Record == nil || !result.Record.Quality.Validated {
		envelope.AddWarning("record not validated: " + result.StopReason)
	}
	return printJSON(result, envelope)
}

func cmdRunUntilComplete(ctx context.Context) int {
	a, code := newApp(ctx)
	if a == nil {
		return code
	}
	defer a.Close()

	processed, err := a.RunUntilComplete(ctx)
	if err != nil {
		return fail(err)
	}
	logger.Info().Int("processed", processed).Msg("Queue drained")
	return 0
}

func cmdQueueAdd(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("queue-add", flag.ExitOnError)
	jobPath := flags.String("job", "", "Job input JSON file")
	priority := flags.Int("priority", 0, "Queue priority (higher first)")
	flags.Parse(args)
	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "queue-add requires -job <file>")
		return 2
	}

	job, err := loadJobFile(*jobPath)
	if err != nil {
		return fail(err)
	}

	a, code := newApp(ctx)
	if a == nil {
		return code
	}
	defer a.Close()

	if err := a.SaveJob(ctx, job); err != nil {
		return fail(err)
	}
	if err := a.Queue.Add(models.QueueProduct{
		ProductID: job.ProductID,
		Category:  job.Category,
		S3Key:     app.JobKey(job.Category, job.ProductID),
		Status:    models.ProductPending,
		Priority:  *priority,
	}); err != nil {
		return fail(err)
	}
	logger.Info().Str("product", job.ProductID).Msg("Product queued")
	return 0
}

func cmdQueueList() int {
	products, err := queue.NewStore(config.Storage.QueuePath, logger).List()
	if err != nil {
		return fail(err)
	}
	return printJSON(products, models.SuccessEnvelope())
}

func cmdQueueRun(ctx context.Context) int {
	a, code := newApp(ctx)
	if a == nil {
		return code
	}
	defer a.Close()

	ran, err := a.ProcessQueueOnce(ctx)
	if err != nil {
		return fail(err)
	}
	if !ran {
		logger.Info().Msg("Queue empty; nothing to run")
	}
	return 0
}

func cmdBatchCreate(args []string) int {
	flags := flag.NewFlagSet("batch-create", flag.ExitOnError)
	categoryName := flags.String("category", "", "Category of every product in the batch")
	products := flags.String("products", "", "Comma-separated product IDs")
	maxRetries := flags.Int("max-retries", 1, "Retries per product before skipping")
	flags.Parse(args)
	if *categoryName == "" || *products == "" {
		fmt.Fprintln(os.Stderr, "batch-create requires -category and -products")
		return 2
	}

	ids := strings.Split(*products, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	a, code := newApp(context.Background())
	if a == nil {
		return code
	}
	defer a.Close()

	batch := a.Batches.Create(*categoryName, ids, *maxRetries)
	return printJSON(batch, models.SuccessEnvelope())
}

func cmdBatchRun(ctx context.Context, args []string) int {
	flags := flag.NewFlagSet("batch-run", flag.ExitOnError)
	batchID := flags.String("id", "", "Batch to run")
	flags.Parse(args)
	if *batchID == "" {
		fmt.Fprintln(os.Stderr, "batch-run requires -id <batchId>")
		return 2
	}

	a, code := newApp(ctx)
	if a == nil {
		return code
	}
	defer a.Close()

	if err := a.Batches.Start(*batchID); err != nil {
		return fail(err)
	}
	for {
		ran, err := a.Batches.RunNext(ctx, *batchID)
		if err != nil {
			logger.Warn().Err(err).Msg("Batch product failed")
		}
		if !ran {
			break
		}
	}
	batch, err := a.Batches.Get(*batchID)
	if err != nil {
		return fail(err)
	}
	return printJSON(batch, models.SuccessEnvelope())
}
