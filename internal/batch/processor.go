// Package batch imports historical vital-signs samples from files.
package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gmsas95/vitalwatch/internal/vitals"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Recorder stores one sample
type Recorder interface {
	Record(ctx context.Context, userID string, sample vitals.VitalSigns) (*vitals.RecordResult, error)
}

type Config struct {
	MaxConcurrency int
	RatePerMinute  int // 0 = unlimited
	Burst          int
	SkipInvalid    bool // drop undecodable rows instead of failing the load
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Burst:          10,
		SkipInvalid:    true,
	}
}

// InputItem is one sample read from the input file
type InputItem struct {
	ID     string
	Sample vitals.VitalSigns
}

// OutputItem is the outcome of recording one item
type OutputItem struct {
	ID       string    `json:"id"`
	VitalsID string    `json:"vitals_id,omitempty"`
	Alerts   int       `json:"alerts"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"timestamp"`
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Alerts    int           `json:"alerts"`
	Duration  time.Duration `json:"duration"`
	Items     []OutputItem  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

type Processor struct {
	recorder Recorder
	config   Config
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewProcessor(rec Recorder, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{recorder: rec, config: cfg, logger: logger}
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), burst)
	}
	return p
}

// ProcessFile imports every sample of inputPath for userID and optionally
// writes the per-item result to outputPath as JSON.
func (p *Processor) ProcessFile(ctx context.Context, userID, inputPath, outputPath string) (*Result, error) {
	items, skipped, err := p.loadInputFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load input file: %w", err)
	}

	result := p.Process(ctx, userID, items)
	result.Skipped = skipped
	result.Total += skipped

	if outputPath != "" {
		if err := saveOutputFile(outputPath, result); err != nil {
			return result, fmt.Errorf("failed to save output file: %w", err)
		}
	}
	return result, nil
}

// Process records items with a bounded worker pool
func (p *Processor) Process(ctx context.Context, userID string, items []InputItem) *Result {
	result := &Result{
		Total:     len(items),
		StartTime: time.Now(),
		Items:     make([]OutputItem, 0, len(items)),
	}

	concurrency := p.config.MaxConcurrency
	if concurrency > len(items) {
		concurrency = len(items)
	}

	progress := &ProgressTracker{Total: len(items), StartTime: result.StartTime}
	itemsChan := make(chan InputItem, len(items))
	resultsChan := make(chan OutputItem, len(items))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, userID, itemsChan, resultsChan, progress)
		}()
	}

	for _, item := range items {
		itemsChan <- item
	}
	close(itemsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for output := range resultsChan {
		result.Items = append(result.Items, output)
		if output.Success {
			result.Success++
			result.Alerts += output.Alerts
		} else {
			result.Failed++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	p.logger.Info("Import complete",
		zap.String("user_id", userID),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("alerts", result.Alerts),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (p *Processor) worker(ctx context.Context, userID string, items <-chan InputItem, results chan<- OutputItem, progress *ProgressTracker) {
	for item := range items {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				results <- OutputItem{ID: item.ID, Error: fmt.Sprintf("rate limit error: %v", err), Time: time.Now()}
				continue
			}
		}

		results <- p.processItem(ctx, userID, item)

		if done := progress.Increment(); done%100 == 0 {
			p.logger.Info("Import progress",
				zap.Int("completed", done),
				zap.Int("total", progress.Total),
				zap.Float64("percent", progress.Percent()),
				zap.Duration("eta", progress.ETA()),
			)
		}
	}
}

func (p *Processor) processItem(ctx context.Context, userID string, item InputItem) OutputItem {
	output := OutputItem{ID: item.ID, Time: time.Now()}

	sample := item.Sample
	if sample.Source == "" {
		sample.Source = vitals.SourceImport
	}

	res, err := p.recorder.Record(ctx, userID, sample)
	if err != nil {
		output.Error = err.Error()
		return output
	}

	output.VitalsID = res.Vitals.ID
	output.Alerts = len(res.Alerts)
	output.Success = true
	return output
}

// loadInputFile picks the format by extension: .csv, .jsonl, otherwise JSON
// (an array or a stream of objects).
func (p *Processor) loadInputFile(path string) ([]InputItem, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return p.loadCSV(file)
	case ".jsonl", ".ndjson":
		return p.loadJSONLines(file)
	default:
		return p.loadJSON(file)
	}
}

func (p *Processor) loadJSON(r io.Reader) ([]InputItem, int, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	if first == '[' {
		var samples []vitals.VitalSigns
		if err := json.NewDecoder(br).Decode(&samples); err != nil {
			return nil, 0, fmt.Errorf("failed to decode JSON: %w", err)
		}
		items := make([]InputItem, len(samples))
		for i := range samples {
			items[i] = InputItem{ID: fmt.Sprintf("item-%d", i+1), Sample: samples[i]}
		}
		return items, 0, nil
	}

	var items []InputItem
	decoder := json.NewDecoder(br)
	for decoder.More() {
		var s vitals.VitalSigns
		if err := decoder.Decode(&s); err != nil {
			// a broken object desynchronises the stream
			return nil, 0, fmt.Errorf("failed to decode JSON: %w", err)
		}
		items = append(items, InputItem{ID: fmt.Sprintf("item-%d", len(items)+1), Sample: s})
	}
	return items, 0, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func (p *Processor) loadJSONLines(r io.Reader) ([]InputItem, int, error) {
	var items []InputItem
	skipped := 0
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var s vitals.VitalSigns
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			if p.config.SkipInvalid {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("line %d: %w", lineNum, err)
		}
		items = append(items, InputItem{ID: fmt.Sprintf("line-%d", lineNum), Sample: s})
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read file: %w", err)
	}
	return items, skipped, nil
}

var csvColumns = map[string]func(s *vitals.VitalSigns, v float64){
	"temperature":       func(s *vitals.VitalSigns, v float64) { s.Temperature = v },
	"heart_rate":        func(s *vitals.VitalSigns, v float64) { s.HeartRate = v },
	"systolic":          func(s *vitals.VitalSigns, v float64) { s.BloodPressure.Systolic = v },
	"diastolic":         func(s *vitals.VitalSigns, v float64) { s.BloodPressure.Diastolic = v },
	"oxygen_saturation": func(s *vitals.VitalSigns, v float64) { s.OxygenSaturation = v },
	"respiratory_rate":  func(s *vitals.VitalSigns, v float64) { s.RespiratoryRate = v },
	"blood_sugar":       func(s *vitals.VitalSigns, v float64) { s.BloodSugar = vitals.Float(v) },
	"weight":            func(s *vitals.VitalSigns, v float64) { s.Weight = vitals.Float(v) },
	"height":            func(s *vitals.VitalSigns, v float64) { s.Height = vitals.Float(v) },
}

// loadCSV reads a header row naming the columns. "timestamp" is RFC 3339,
// "notes" is free text, empty cells are unmeasured.
func (p *Processor) loadCSV(r io.Reader) ([]InputItem, int, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var items []InputItem
	skipped := 0
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err == nil {
			var s vitals.VitalSigns
			if s, err = parseCSVRecord(header, record); err == nil {
				items = append(items, InputItem{ID: fmt.Sprintf("row-%d", row), Sample: s})
				continue
			}
		}
		if !p.config.SkipInvalid {
			return nil, 0, fmt.Errorf("row %d: %w", row, err)
		}
		skipped++
	}
	return items, skipped, nil
}

func parseCSVRecord(header, record []string) (vitals.VitalSigns, error) {
	var s vitals.VitalSigns
	for i, cell := range record {
		if i >= len(header) {
			break
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}

		switch col := header[i]; col {
		case "timestamp":
			ts, err := time.Parse(time.RFC3339, cell)
			if err != nil {
				return s, fmt.Errorf("invalid timestamp %q", cell)
			}
			s.Timestamp = ts
		case "notes":
			s.Notes = cell
		default:
			set, ok := csvColumns[col]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return s, fmt.Errorf("invalid %s %q", col, cell)
			}
			set(&s, v)
		}
	}
	return s, nil
}

func saveOutputFile(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Import Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Imported:  %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("Alerts:    %d\n", r.Alerts))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration.Round(time.Millisecond)))
	return sb.String()
}

// ProgressTracker tracks import progress across workers
type ProgressTracker struct {
	Total     int
	StartTime time.Time

	mu        sync.Mutex
	completed int
}

// Increment marks one item done and returns the new count
func (p *ProgressTracker) Increment() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	return p.completed
}

func (p *ProgressTracker) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *ProgressTracker) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed()) / float64(p.Total) * 100
}

func (p *ProgressTracker) ETA() time.Duration {
	completed := p.Completed()
	if completed == 0 {
		return 0
	}
	elapsed := time.Since(p.StartTime)
	perItem := elapsed / time.Duration(completed)
	return perItem * time.Duration(p.Total-completed)
}
