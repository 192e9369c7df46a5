package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/hashicorp/go-multierror"

	"github.com/lox/budyko/internal/aggregate"
	"github.com/lox/budyko/internal/export"
	"github.com/lox/budyko/internal/ingest"
	"github.com/lox/budyko/internal/metrics"
	"github.com/lox/budyko/internal/models"
	"github.com/lox/budyko/internal/pet"
	"github.com/lox/budyko/internal/store"
	"github.com/lox/budyko/internal/waterbalance"
)

type Reason string

const (
	MissingSite   Reason = "missing_site"
	InvalidWindow Reason = "invalid_window"
	ReadError     Reason = "read_error"
	StoreError    Reason = "store_error"
	DuplicateSite Reason = "duplicate_site"
	Panicked      Reason = "panic"
)

// Skip records a site that produced no results. Skips never abort a run.
type Skip struct {
	SiteID string
	Reason Reason
	Err    error
}

func (s Skip) Error() string {
	return fmt.Sprintf("%s: %s: %v", s.SiteID, s.Reason, s.Err)
}

func (s Skip) Unwrap() error {
	return s.Err
}

type Options struct {
	DataDir      string
	FileMarker   string
	MissingValue float64
	Columns      ingest.Columns
	Method       pet.Method
	Workers      int
	Sites        []models.Site

	// DisableQC keeps implausible values instead of clearing them before
	// aggregation; only missing values are then excluded from sums.
	DisableQC bool

	// Store, AnnualCSV and PeriodCSV are optional outputs.
	Store     *store.Store
	AnnualCSV string
	PeriodCSV string

	Progress bool
}

type SiteResult struct {
	Site         models.Site
	Annual       []models.WaterBalanceIndex
	Period       models.PeriodSummary
	HasPeriod    bool
	Records      int
	Flagged      int
	DomainErrors int
}

type Report struct {
	RunID   string
	Method  pet.Method
	Results []SiteResult // sorted by site ID
	Skips   []Skip       // sorted by site ID
}

// Err combines every skip into a single error, or returns nil when all sites
// were processed.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, s := range r.Skips {
		result = multierror.Append(result, s)
	}
	return result.ErrorOrNil()
}

// Annual returns every site's annual rows in site then year order.
func (r *Report) Annual() []models.WaterBalanceIndex {
	var rows []models.WaterBalanceIndex
	for _, res := range r.Results {
		rows = append(rows, res.Annual...)
	}
	return rows
}

func (r *Report) Periods() []models.PeriodSummary {
	var rows []models.PeriodSummary
	for _, res := range r.Results {
		if res.HasPeriod {
			rows = append(rows, res.Period)
		}
	}
	return rows
}

func (r *Report) Result(siteID string) (SiteResult, bool) {
	i := sort.Search(len(r.Results), func(i int) bool { return r.Results[i].Site.SiteID >= siteID })
	if i < len(r.Results) && r.Results[i].Site.SiteID == siteID {
		return r.Results[i], true
	}
	return SiteResult{}, false
}

var readDaily = ingest.ReadDailyFile

type runner struct {
	opts Options
	agg  *aggregate.Aggregator
	run  *store.Run

	mu      sync.Mutex
	results map[string]SiteResult
	skips   []Skip
}

// Run processes every site with a pool of workers. Per-site failures are
// collected as skips in the report; the returned error is reserved for
// failures of the run itself.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.FileMarker == "" {
		opts.FileMarker = ingest.DefaultMarker
	}

	r := &runner{
		opts:    opts,
		agg:     aggregate.New(opts.Method),
		results: make(map[string]SiteResult, len(opts.Sites)),
	}

	if opts.Store != nil {
		run, err := opts.Store.StartRun(opts.Method.String(), len(opts.Sites))
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		r.run = run
	}

	log.Printf("pipeline: processing %d sites with %s using %d workers", len(opts.Sites), opts.Method, opts.Workers)

	var bar *uiprogress.Bar
	if opts.Progress {
		progress := uiprogress.New()
		progress.Start()
		defer progress.Stop()
		bar = progress.AddBar(len(opts.Sites)).AppendCompleted().PrependElapsed()
	}

	jobs := make(chan models.Site)
	var wg sync.WaitGroup
	wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer wg.Done()
			for site := range jobs {
				r.process(site)
				if bar != nil {
					bar.Incr()
				}
			}
		}()
	}

	seen := make(map[string]bool, len(opts.Sites))
feed:
	for _, site := range opts.Sites {
		if seen[site.SiteID] {
			r.skip(Skip{SiteID: site.SiteID, Reason: DuplicateSite, Err: errors.New("site listed more than once")})
			if bar != nil {
				bar.Incr()
			}
			continue
		}
		seen[site.SiteID] = true
		select {
		case jobs <- site:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	report := r.report()

	if err := ctx.Err(); err != nil {
		r.finish(report, err)
		return report, err
	}

	if err := writeExports(opts, report); err != nil {
		r.finish(report, err)
		return report, err
	}

	r.finish(report, nil)
	log.Printf("pipeline: %d sites processed, %d skipped", len(report.Results), len(report.Skips))
	return report, nil
}

func (r *runner) process(site models.Site) {
	start := time.Now()
	defer func() {
		metrics.SiteDuration.Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if p := recover(); p != nil {
			r.skip(Skip{SiteID: site.SiteID, Reason: Panicked, Err: fmt.Errorf("%v", p)})
		}
	}()

	if r.opts.Store != nil {
		if err := r.opts.Store.UpsertSite(site); err != nil {
			log.Printf("pipeline: %s: upsert site: %v", site.SiteID, err)
		}
	}

	res, skip := r.processSite(site)
	if skip != nil {
		r.skip(*skip)
		return
	}

	if r.opts.Store != nil {
		var period *models.PeriodSummary
		if res.HasPeriod {
			period = &res.Period
		}
		if err := r.opts.Store.SaveSiteResults(r.run.ID, res.Annual, period); err != nil {
			r.skip(Skip{SiteID: site.SiteID, Reason: StoreError, Err: err})
			return
		}
	}

	metrics.SitesTotal.WithLabelValues("ok").Inc()
	r.mu.Lock()
	r.results[site.SiteID] = res
	r.mu.Unlock()
}

func (r *runner) processSite(site models.Site) (SiteResult, *Skip) {
	res := SiteResult{Site: site}

	if _, _, ok := site.Window(); !ok {
		return res, &Skip{SiteID: site.SiteID, Reason: InvalidWindow, Err: aggregate.ErrInvalidWindow}
	}

	path, err := ingest.Locate(r.opts.DataDir, site.SiteID, r.opts.FileMarker)
	if errors.Is(err, ingest.ErrSiteNotFound) {
		return res, &Skip{SiteID: site.SiteID, Reason: MissingSite, Err: err}
	}
	if err != nil {
		return res, &Skip{SiteID: site.SiteID, Reason: ReadError, Err: err}
	}

	records, err := readDaily(path, site.SiteID, r.opts.Columns, r.opts.MissingValue)
	if err != nil {
		return res, &Skip{SiteID: site.SiteID, Reason: ReadError, Err: err}
	}
	res.Records = len(records)
	metrics.RecordsRead.Add(float64(len(records)))

	if !r.opts.DisableQC {
		res.Flagged = validate(site.SiteID, records)
	}

	agg, err := r.agg.AggregateSite(site, records)
	if errors.Is(err, aggregate.ErrInvalidWindow) {
		return res, &Skip{SiteID: site.SiteID, Reason: InvalidWindow, Err: err}
	}
	if err != nil {
		return res, &Skip{SiteID: site.SiteID, Reason: ReadError, Err: err}
	}
	if agg.DomainErrors > 0 {
		metrics.PETDomainErrors.WithLabelValues(r.opts.Method.String()).Add(float64(agg.DomainErrors))
	}

	res.DomainErrors = agg.DomainErrors
	res.Annual = waterbalance.Annual(agg.Annual)
	res.Period, res.HasPeriod = waterbalance.Period(site, agg.Annual)
	res.Period.PETDomainErrors = agg.DomainErrors
	return res, nil
}

// validate clears implausible values in place and returns how many records
// had at least one flag.
func validate(siteID string, records []models.DailyRecord) int {
	flagged := 0
	seen := make(map[string]bool)
	for i := range records {
		flags := ingest.ValidateRecord(&records[i])
		if len(flags) == 0 {
			continue
		}
		flagged++
		for _, f := range flags {
			seen[f] = true
			metrics.RecordsFlagged.WithLabelValues(f).Inc()
		}
	}
	if flagged > 0 {
		flags := make([]string, 0, len(seen))
		for f := range seen {
			flags = append(flags, f)
		}
		sort.Strings(flags)
		log.Printf("pipeline: %s: %d records flagged %s", siteID, flagged, ingest.QualityFlagsToJSON(flags))
	}
	return flagged
}

func (r *runner) skip(s Skip) {
	log.Printf("pipeline: skipping %s", s)
	metrics.SitesTotal.WithLabelValues(string(s.Reason)).Inc()

	if r.opts.Store != nil {
		if err := r.opts.Store.InsertSkip(r.run.ID, store.Skip{SiteID: s.SiteID, Reason: string(s.Reason), Detail: errString(s.Err)}); err != nil {
			log.Printf("pipeline: %s: record skip: %v", s.SiteID, err)
		}
	}

	r.mu.Lock()
	r.skips = append(r.skips, s)
	r.mu.Unlock()
}

func (r *runner) report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{Method: r.opts.Method, Skips: append([]Skip(nil), r.skips...)}
	if r.run != nil {
		report.RunID = r.run.ID
	}
	for _, res := range r.results {
		report.Results = append(report.Results, res)
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Site.SiteID < report.Results[j].Site.SiteID })
	sort.SliceStable(report.Skips, func(i, j int) bool { return report.Skips[i].SiteID < report.Skips[j].SiteID })
	return report
}

func (r *runner) finish(report *Report, err error) {
	if r.run == nil {
		return
	}
	r.run.SitesProcessed = len(report.Results)
	r.run.SitesSkipped = len(report.Skips)
	r.run.Success = err == nil
	if err != nil {
		r.run.ErrorMessage.String, r.run.ErrorMessage.Valid = err.Error(), true
	}
	if ferr := r.opts.Store.FinishRun(r.run); ferr != nil {
		log.Printf("pipeline: finish run %s: %v", r.run.ID, ferr)
	}
}

func writeExports(opts Options, report *Report) error {
	if opts.AnnualCSV != "" {
		if err := export.WriteAnnualFile(opts.AnnualCSV, report.Annual()); err != nil {
			return fmt.Errorf("export annual: %w", err)
		}
		log.Printf("pipeline: wrote %s", opts.AnnualCSV)
	}
	if opts.PeriodCSV != "" {
		if err := export.WritePeriodFile(opts.PeriodCSV, report.Periods()); err != nil {
			return fmt.Errorf("export period: %w", err)
		}
		log.Printf("pipeline: wrote %s", opts.PeriodCSV)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
