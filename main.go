package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"petriage/common"
	"petriage/elfrw"
	"petriage/peparse"
)

type Config struct {
	Verbose     bool
	Parallel    bool
	MaxWorkers  int
	JSON        bool
	DiagOnly    bool
	ShowHelp    bool
	ShowVersion bool
}

type ProcessStats struct {
	mu        sync.Mutex
	Processed int
	Valid     int
	Fatal     int
	Failed    int
	Warnings  int
	Errors    int
	NotPE     int
}

const versionString = "petriage, version 0.3 (structural PE parser and validator)"

var (
	config = &Config{}
	stats  = &ProcessStats{}

	verbose     = flag.Bool("v", false, "Enable verbose logging")
	parallel    = flag.Bool("j", false, "Process files in parallel")
	maxWorkers  = flag.Int("workers", 4, "Maximum number of parallel workers (1-16)")
	jsonOutput  = flag.Bool("json", false, "Print the decoded model as JSON")
	diagOnly    = flag.Bool("diag", false, "Print diagnostics only")
	showHelp    = flag.Bool("help", false, "Display this help and exit")
	showVersion = flag.Bool("version", false, "Display version information and exit")
)

var ErrNotRegular = errors.New("not a regular file")

// ProcessResult is the outcome for one input file. Output holds the
// rendered report so parallel workers never interleave.
type ProcessResult struct {
	Index    int
	Filename string
	Analysis *peparse.Analysis
	ELF      *elfrw.File
	Output   []byte
	Error    error
	Elapsed  time.Duration
}

// Fatal reports whether the file opened but its headers could not be used.
func (r *ProcessResult) Fatal() bool {
	return r.Analysis != nil && !r.Analysis.File.Valid
}

type jsonReport struct {
	*peparse.Analysis
	ELF   *elfrw.File `json:"elf,omitempty"`
	Error string      `json:"error,omitempty"`
}

func init() {
	flag.Usage = customUsage
}

func customUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] FILE...\n", os.Args[0])
	_, _ = fmt.Fprintln(os.Stderr, "Parse and validate the structure of PE executables.")
	_, _ = fmt.Fprintln(os.Stderr, "")
	_, _ = fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
	_, _ = fmt.Fprintln(os.Stderr, "")
	_, _ = fmt.Fprintln(os.Stderr, "Examples:")
	_, _ = fmt.Fprintf(os.Stderr, "  %s sample.exe                # Full triage report\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s -j -workers=8 *.dll       # Parallel processing with 8 workers\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s -json sample.exe > m.json # Decoded model as JSON\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s -diag *.exe               # Diagnostics only\n", os.Args[0])
}

func parseFlags() {
	flag.Parse()

	config.Verbose = *verbose
	config.Parallel = *parallel
	config.MaxWorkers = clampWorkers(*maxWorkers)
	config.JSON = *jsonOutput
	config.DiagOnly = *diagOnly
	config.ShowHelp = *showHelp
	config.ShowVersion = *showVersion
}

func clampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}

func setupLogging(out io.Writer, verbose bool) {
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

func processFile(index int, filename string) *ProcessResult {
	result := &ProcessResult{Index: index, Filename: filename}
	start := time.Now()
	defer func() {
		result.Elapsed = time.Since(start)
	}()

	fileInfo, err := os.Stat(filename)
	if err != nil {
		result.Error = fmt.Errorf("cannot access file: %w", err)
		return result
	}
	if !fileInfo.Mode().IsRegular() {
		result.Error = ErrNotRegular
		return result
	}

	analysis, err := peparse.AnalyzeFile(filename)
	if analysis == nil {
		result.Error = fmt.Errorf("failed to open file: %w", err)
		return result
	}
	result.Analysis = analysis
	if err != nil && !errors.Is(err, peparse.ErrFatal) {
		result.Error = err
		return result
	}

	if result.Fatal() {
		result.ELF = probeELF(filename)
	}
	result.Output = render(result)
	return result
}

// probeELF returns a summary when filename is an ELF image, nil otherwise.
func probeELF(filename string) *elfrw.File {
	data, err := os.ReadFile(filename)
	if err != nil || !elfrw.IsELF(data) {
		return nil
	}
	ef, err := elfrw.Probe(data)
	if err != nil {
		log.WithField("file", filename).WithError(err).Debug("ELF probe failed")
		return nil
	}
	return ef
}

func render(result *ProcessResult) []byte {
	var buf bytes.Buffer
	switch {
	case config.JSON:
		return nil
	case config.DiagOnly:
		result.Analysis.ReportDiagnostics(&buf)
	default:
		result.Analysis.Report(&buf)
		if result.ELF != nil {
			buf.WriteString("\n")
			result.ELF.Report(&buf, result.Filename)
		}
	}
	return buf.Bytes()
}

func logResult(result *ProcessResult) {
	entry := log.WithFields(log.Fields{
		"file":    filepath.Base(result.Filename),
		"elapsed": result.Elapsed.Round(time.Microsecond),
	})
	if result.Error != nil {
		entry.WithError(result.Error).Warn("analysis failed")
		return
	}
	diags := result.Analysis.File.Diagnostics
	entry.WithFields(log.Fields{
		"valid":    result.Analysis.File.Valid,
		"warnings": diags.Count(common.SeverityWarning),
		"errors":   diags.Count(common.SeverityError),
	}).Debug("analysis complete")
}

func processFilesSequential(filenames []string) []ProcessResult {
	results := make([]ProcessResult, 0, len(filenames))

	for i, filename := range filenames {
		result := processFile(i, filename)
		results = append(results, *result)
		logResult(result)
	}

	return results
}

func processFilesParallel(filenames []string, workers int) []ProcessResult {
	type job struct {
		index    int
		filename string
	}
	jobs := make(chan job, len(filenames))
	results := make(chan ProcessResult, len(filenames))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- *processFile(j.index, j.filename)
			}
		}()
	}

	go func() {
		for i, filename := range filenames {
			jobs <- job{index: i, filename: filename}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	allResults := make([]ProcessResult, 0, len(filenames))
	for result := range results {
		logResult(&result)
		allResults = append(allResults, result)
	}

	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].Index < allResults[j].Index
	})
	return allResults
}

func writeReports(w io.Writer, results []ProcessResult) {
	for i, result := range results {
		if result.Error != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %s: %v\n", os.Args[0], result.Filename, result.Error)
			continue
		}
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = w.Write(result.Output)
	}
}

func writeJSON(w io.Writer, results []ProcessResult) error {
	reports := make([]jsonReport, 0, len(results))
	for _, result := range results {
		report := jsonReport{Analysis: result.Analysis, ELF: result.ELF}
		if result.Error != nil {
			report.Analysis = nil
			report.Error = result.Error.Error()
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(reports) == 1 {
		return enc.Encode(reports[0])
	}
	return enc.Encode(reports)
}

func updateStats(results []ProcessResult) {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	for _, result := range results {
		stats.Processed++
		switch {
		case result.Error != nil:
			stats.Failed++
			continue
		case result.Fatal():
			stats.Fatal++
			if result.ELF != nil {
				stats.NotPE++
			}
		default:
			stats.Valid++
		}
		diags := result.Analysis.File.Diagnostics
		stats.Warnings += diags.Count(common.SeverityWarning)
		stats.Errors += diags.Count(common.SeverityError)
	}
}

func printSummary(w io.Writer) {
	if stats.Processed == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "\nSummary:\n")
	_, _ = fmt.Fprintf(w, "  Files processed: %d\n", stats.Processed)
	_, _ = fmt.Fprintf(w, "  Valid PE images: %d\n", stats.Valid)
	_, _ = fmt.Fprintf(w, "  Fatal: %d\n", stats.Fatal)
	if stats.NotPE > 0 {
		_, _ = fmt.Fprintf(w, "  ELF images: %d\n", stats.NotPE)
	}
	_, _ = fmt.Fprintf(w, "  Failed to open: %d\n", stats.Failed)
	_, _ = fmt.Fprintf(w, "  Warnings: %d, Errors: %d\n", stats.Warnings, stats.Errors)
}

// exitCode is 1 when any file could not be opened or had Fatal headers.
func exitCode(results []ProcessResult) int {
	for i := range results {
		if results[i].Error != nil || results[i].Fatal() {
			return 1
		}
	}
	return 0
}

func main() {
	parseFlags()
	setupLogging(os.Stderr, config.Verbose)

	if config.ShowHelp {
		flag.Usage()
		os.Exit(0)
	}

	if config.ShowVersion {
		fmt.Println(versionString)
		os.Exit(0)
	}

	filenames := flag.Args()
	if len(filenames) == 0 {
		flag.Usage()
		os.Exit(0)
	}

	var results []ProcessResult
	if config.Parallel && len(filenames) > 1 {
		log.WithFields(log.Fields{
			"files":   len(filenames),
			"workers": config.MaxWorkers,
		}).Info("processing files in parallel")
		results = processFilesParallel(filenames, config.MaxWorkers)
	} else {
		results = processFilesSequential(filenames)
	}

	updateStats(results)

	if config.JSON {
		if err := writeJSON(os.Stdout, results); err != nil {
			log.WithError(err).Error("failed to encode JSON")
			os.Exit(1)
		}
	} else {
		writeReports(os.Stdout, results)
		if len(filenames) > 1 || config.Verbose {
			printSummary(os.Stdout)
		}
	}

	os.Exit(exitCode(results))
}
