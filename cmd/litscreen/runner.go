package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhinengmahua/litscreen/config"
	"github.com/zhinengmahua/litscreen/internal/metrics"
	"github.com/zhinengmahua/litscreen/providers/openai"
	"github.com/zhinengmahua/litscreen/screen"
	"github.com/zhinengmahua/litscreen/screen/cache"
	"github.com/zhinengmahua/litscreen/types"
)

// Record 是输入 JSONL 的一行：标题 + 摘要，或直接给 text。
type Record struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Abstract string `json:"abstract,omitempty"`
	Text     string `json:"text,omitempty"`
}

// prompt 拼出送入模型的文本。Text 优先；否则标题与摘要以空行分隔。
func (r *Record) prompt() string {
	if r.Text != "" {
		return r.Text
	}
	return strings.TrimSpace(r.Title + "\n\n" + r.Abstract)
}

// Output 是输出 JSONL 的一行。
type Output struct {
	ID       string `json:"id,omitempty"`
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// Runner 把配置装配成一次完整的批量筛选执行。
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Run 读取输入、执行筛选、写出结果。Ctrl-C 后未派发的记录以 unsure 结清。
func (r *Runner) Run(inputPath, outputPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := readRecords(inputPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		r.logger.Warn("no input records")
		return nil
	}

	screener := r.buildScreener()

	if r.cfg.Metrics.Enabled {
		go r.serveMetrics()
	}

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].prompt()
	}

	start := time.Now()
	r.logger.Info("screening batch",
		zap.Int("records", len(records)),
		zap.Int("workers", r.cfg.Screen.Workers),
		zap.Strings("stages", r.cfg.Screen.Stages))

	results := screener.ReviewBatch(ctx, texts)

	if err := writeResults(outputPath, records, results); err != nil {
		return err
	}

	totals := screener.Usage()
	r.logger.Info("batch complete",
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("tokens", totals.Tokens),
		zap.Float64("cost_usd", totals.Cost))

	return nil
}

func (r *Runner) buildScreener() *screen.Screener {
	provider := openai.New(r.cfg.ToProvider(), r.logger)

	opts := []screen.Option{screen.WithLogger(r.logger)}
	if c := cache.New(r.cfg.ToCache(), r.logger); c != nil {
		opts = append(opts, screen.WithCache(c))
	}
	if r.cfg.Metrics.Enabled {
		opts = append(opts, screen.WithMetrics(metrics.NewCollector("litscreen", r.logger)))
	}

	return screen.New(provider, r.cfg.ToScreen(), opts...)
}

func (r *Runner) serveMetrics() {
	addr := fmt.Sprintf(":%d", r.cfg.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	r.logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		r.logger.Warn("metrics endpoint stopped", zap.Error(err))
	}
}

// readRecords 逐行解析 JSONL；裸字符串行也接受，视为 text。
func readRecords(path string) ([]Record, error) {
	var in io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var records []Record
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("invalid record at line %d: %w", lineNo, err)
			}
		} else {
			rec = Record{Text: line}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return records, nil
}

func writeResults(path string, records []Record, results []types.Result) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	for i, res := range results {
		line := Output{
			ID:       records[i].ID,
			Decision: res.Decision.String(),
			Notes:    res.Notes,
		}
		if err := enc.Encode(&line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}
