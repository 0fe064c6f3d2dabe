// Package discovery works out which URLs of a repository should be archived.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/eprints-archiver/internal/eprints"
	"github.com/JakeFAU/eprints-archiver/internal/filter"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

// Repository is the subset of the EPrints client discovery needs.
type Repository interface {
	FetchIndex(ctx context.Context) ([]int, error)
	FetchRecord(ctx context.Context, id int) (eprints.Record, error)
	FetchPage(ctx context.Context, pageURL string) ([]byte, bool, error)
	Exists(ctx context.Context, pageURL string) (bool, error)
	Site() eprints.Site
}

// Config tunes the engine.
type Config struct {
	// Threads bounds concurrent repository calls. Zero means half the CPUs.
	Threads int
	// Selector scopes browse-page link extraction.
	Selector string
	// ErrorOut aborts discovery on the first missing record or fetch error.
	ErrorOut bool
}

// DefaultThreads returns half the available CPUs, at least one.
func DefaultThreads() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}

// Anomaly is a contained per-record or per-page problem.
type Anomaly struct {
	RecordID int
	URL      string
	Err      error
}

func (a Anomaly) String() string {
	if a.RecordID != 0 {
		return fmt.Sprintf("record %d: %v", a.RecordID, a.Err)
	}
	return fmt.Sprintf("%s: %v", a.URL, a.Err)
}

// Result is the outcome of a discovery pass.
type Result struct {
	URLs       []TargetURL
	Restricted bool
	// Candidates is the number of record ids considered before filtering.
	Candidates int
	// Selected lists the records that passed the filters.
	Selected  []int
	Invalid   int
	Anomalies []Anomaly
}

// Engine runs discovery against one repository.
type Engine struct {
	repo     Repository
	cfg      Config
	logger   *zap.Logger
	reporter *progress.Reporter
}

// NewEngine builds an Engine. A nil logger or reporter disables that output.
func NewEngine(repo Repository, cfg Config, logger *zap.Logger, reporter *progress.Reporter) *Engine {
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads()
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{repo: repo, cfg: cfg, logger: logger.Named("discovery"), reporter: reporter}
}

// run holds the state of one Discover call.
type run struct {
	*Engine
	mu        sync.Mutex
	anomalies []Anomaly
}

// Discover produces the frozen URL set for spec. In keep-going mode the
// returned error is non-nil only when the index cannot be read or ctx ends.
func (e *Engine) Discover(ctx context.Context, spec filter.Spec) (Result, error) {
	r := &run{Engine: e}
	res := Result{Restricted: spec.Restricted()}
	site := e.repo.Site()

	ids := spec.IDs
	if ids == nil {
		e.emit(progress.Event{Stage: progress.StageDiscoveryStart, Note: "from " + site.Host()})
		index, err := e.repo.FetchIndex(ctx)
		if err != nil {
			return res, fmt.Errorf("discover: %w", err)
		}
		ids = index
	} else {
		e.emit(progress.Event{Stage: progress.StageDiscoveryStart, Note: fmt.Sprintf("for %d records from %s", len(ids), site.Host())})
	}
	ids = spec.SelectIDs(ids)
	res.Candidates = len(ids)

	records, err := r.fetchRecords(ctx, ids)
	if err != nil {
		return r.finish(res, nil), err
	}
	res.Selected = filter.Select(records, spec)
	e.logger.Info("records selected",
		zap.Int("candidates", len(ids)),
		zap.Int("selected", len(res.Selected)),
		zap.Bool("restricted", res.Restricted),
	)

	byID := make(map[int]eprints.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	set := NewURLSet()
	if res.Restricted {
		leaves, err := r.leafPages(ctx, res.Selected)
		if err != nil {
			return r.finish(res, set), err
		}
		for _, id := range res.Selected {
			addRecordURLs(set, site, byID[id])
			for _, leaf := range leaves[id] {
				set.Add(leaf, GeneralBrowseLeaf)
			}
		}
	} else {
		general, err := r.generalPages(ctx)
		if err != nil {
			return r.finish(res, set), err
		}
		for _, page := range general {
			set.Add(page.URL, page.Provenance)
		}
		for _, id := range res.Selected {
			addRecordURLs(set, site, byID[id])
		}
	}
	return r.finish(res, set), nil
}

func (r *run) finish(res Result, set *URLSet) Result {
	r.mu.Lock()
	res.Anomalies = append([]Anomaly(nil), r.anomalies...)
	r.mu.Unlock()
	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		if res.Anomalies[i].RecordID != res.Anomalies[j].RecordID {
			return res.Anomalies[i].RecordID < res.Anomalies[j].RecordID
		}
		return res.Anomalies[i].URL < res.Anomalies[j].URL
	})
	if set != nil {
		res.URLs = set.Freeze()
		res.Invalid = set.Invalid()
	}
	r.emit(progress.Event{Stage: progress.StageDiscoveryDone, Count: int64(len(res.URLs))})
	return res
}

func addRecordURLs(set *URLSet, site eprints.Site, rec eprints.Record) {
	set.Add(site.CanonicalShort(rec.ID), CanonicalShort)
	set.Add(site.CanonicalLong(rec.ID), CanonicalLong)
	// An absent official URL is not counted as invalid.
	if rec.OfficialURL != "" {
		set.Add(rec.OfficialURL, Official)
	}
}

// anomaly records a contained failure. In error-out mode the error is
// returned so the pool stops scheduling new work.
func (r *run) anomaly(a Anomaly) error {
	r.mu.Lock()
	r.anomalies = append(r.anomalies, a)
	r.mu.Unlock()
	r.logger.Warn("discovery anomaly",
		zap.Int("record", a.RecordID),
		zap.String("url", a.URL),
		zap.Error(a.Err),
	)
	r.emit(progress.Event{Stage: progress.StageAnomaly, RecordID: a.RecordID, URL: a.URL, Note: a.String()})
	if r.cfg.ErrorOut {
		return a.Err
	}
	return nil
}

// pool runs n tasks with bounded parallelism. Tasks receive the parent ctx so
// in-flight work finishes after a failure; the group context only stops new
// tasks from starting.
func (r *run) pool(ctx context.Context, n int, task func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Threads)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return task(ctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) fetchRecords(ctx context.Context, ids []int) ([]eprints.Record, error) {
	slots := make([]eprints.Record, len(ids))
	err := r.pool(ctx, len(ids), func(ctx context.Context, i int) error {
		id := ids[i]
		rec, err := r.repo.FetchRecord(ctx, id)
		if err != nil {
			slots[i] = eprints.Record{ID: id}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome := "error"
			if errors.Is(err, eprints.ErrNotFound) {
				outcome = "missing"
			}
			r.emit(progress.Event{Stage: progress.StageRecordDone, RecordID: id, Outcome: outcome})
			return r.anomaly(Anomaly{RecordID: id, Err: err})
		}
		slots[i] = rec
		r.emit(progress.Event{Stage: progress.StageRecordDone, RecordID: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover records: %w", err)
	}
	return slots, nil
}

type page struct {
	URL        string
	Provenance Provenance
}

// generalPages crawls the root, the browse index, its first-level pages and
// their second-level links.
func (r *run) generalPages(ctx context.Context) ([]page, error) {
	site := r.repo.Site()
	pages := []page{
		{URL: site.Root(), Provenance: GeneralIndex},
		{URL: site.BrowseIndex(), Provenance: GeneralIndex},
	}
	firstLevel, err := r.firstLevel(ctx)
	if err != nil {
		return pages, err
	}
	for _, link := range firstLevel {
		pages = append(pages, page{URL: link, Provenance: GeneralIndex})
	}

	secondLevel := make([][]string, len(firstLevel))
	err = r.pool(ctx, len(firstLevel), func(ctx context.Context, i int) error {
		links, err := r.scrape(ctx, firstLevel[i])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.anomaly(Anomaly{URL: firstLevel[i], Err: err})
		}
		secondLevel[i] = links
		return nil
	})
	if err != nil {
		return pages, fmt.Errorf("discover browse pages: %w", err)
	}
	for _, links := range secondLevel {
		for _, link := range links {
			pages = append(pages, page{URL: link, Provenance: GeneralBrowseLeaf})
		}
	}
	return pages, nil
}

// firstLevel returns the browse categories linked from the browse index.
// A missing browse index yields no categories.
func (r *run) firstLevel(ctx context.Context) ([]string, error) {
	index := r.repo.Site().BrowseIndex()
	links, err := r.scrape(ctx, index)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if aerr := r.anomaly(Anomaly{URL: index, Err: err}); aerr != nil {
			return nil, fmt.Errorf("discover browse index: %w", aerr)
		}
		return nil, nil
	}
	return links, nil
}

func (r *run) scrape(ctx context.Context, pageURL string) ([]string, error) {
	body, ok, err := r.repo.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Debug("page absent", zap.String("url", pageURL))
		return nil, nil
	}
	return browseLinks(body, pageURL, r.cfg.Selector, r.repo.Site())
}

// leafPages probes, for every selected record and browse category, the
// record's page under that category. Results are keyed by record id and
// ordered by category.
func (r *run) leafPages(ctx context.Context, ids []int) (map[int][]string, error) {
	firstLevel, err := r.firstLevel(ctx)
	if err != nil {
		return nil, err
	}
	var categories []string
	seen := map[string]struct{}{}
	for _, link := range firstLevel {
		c := category(link)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		categories = append(categories, c)
	}
	site := r.repo.Site()

	type probe struct {
		id  int
		url string
	}
	probes := make([]probe, 0, len(ids)*len(categories))
	for _, id := range ids {
		for _, c := range categories {
			probes = append(probes, probe{id: id, url: site.LeafURL(c, id)})
		}
	}
	found := make([]bool, len(probes))
	err = r.pool(ctx, len(probes), func(ctx context.Context, i int) error {
		ok, err := r.repo.Exists(ctx, probes[i].url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.anomaly(Anomaly{RecordID: probes[i].id, URL: probes[i].url, Err: err})
		}
		found[i] = ok
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover leaf pages: %w", err)
	}
	out := make(map[int][]string, len(ids))
	for i, p := range probes {
		if found[i] {
			out[p.id] = append(out[p.id], p.url)
		}
	}
	return out, nil
}

func (e *Engine) emit(evt progress.Event) {
	e.reporter.Emit(evt)
}
