package crawl

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// fakeFetcher serves canned HTML by exact URL and records the order of calls.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	return f.FetchFollowingFrames(ctx, rawURL)
}

func (f *fakeFetcher) FetchFollowingFrames(_ context.Context, rawURL string) (*goquery.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("no page for " + rawURL)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// memRecords is an in-memory store.RecordStore keyed by identity.
type memRecords struct {
	mu         sync.Mutex
	nextID     int64
	byIdentity map[string]*counselor.Record
}

func newMemRecords() *memRecords {
	return &memRecords{byIdentity: map[string]*counselor.Record{}}
}

func (m *memRecords) GetBySourceID(_ context.Context, source, sourceID string) (*counselor.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byIdentity {
		if rec.Source == source && rec.SourceID == sourceID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRecords) Save(_ context.Context, rec *counselor.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Identity == "" {
		rec.Identity = rec.DeriveIdentity()
	}
	if existing, ok := m.byIdentity[rec.Identity]; ok {
		rec.ID = existing.ID
	} else {
		m.nextID++
		rec.ID = m.nextID
	}
	cp := *rec
	m.byIdentity[rec.Identity] = &cp
	return nil
}

func (m *memRecords) ListPage(_ context.Context, offset, limit int) ([]counselor.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]counselor.Record, 0, len(m.byIdentity))
	for _, rec := range m.byIdentity {
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memRecords) ListRecent(ctx context.Context, page, size int) ([]counselor.Record, int64, error) {
	recs, err := m.ListPage(ctx, page*size, size)
	return recs, int64(len(m.byIdentity)), err
}

func (m *memRecords) Search(context.Context, store.Query, int, int) ([]counselor.Record, int64, error) {
	return nil, 0, nil
}

func (m *memRecords) Stats(context.Context) (store.FillStats, error) {
	return store.FillStats{Total: int64(len(m.byIdentity))}, nil
}

// memRuns is an in-memory store.RunLogStore.
type memRuns struct {
	mu   sync.Mutex
	rows []store.RunLog
}

func (m *memRuns) Start(_ context.Context, key string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.rows) + 1)
	m.rows = append(m.rows, store.RunLog{
		ID: id, ScheduleKey: key, StartedAt: at, Status: store.RunStarted,
	})
	return id, nil
}

func (m *memRuns) Finish(_ context.Context, id int64, status store.RunStatus, message string, upserted int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID != id {
			continue
		}
		if m.rows[i].Status != store.RunStarted {
			return errors.New("run already terminal")
		}
		m.rows[i].Status = status
		m.rows[i].Message = message
		m.rows[i].UpsertedCount = upserted
		m.rows[i].FinishedAt = &at
		return nil
	}
	return store.ErrNotFound
}

func (m *memRuns) Latest(_ context.Context, key string) (*store.RunLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].ScheduleKey == key {
			cp := m.rows[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

const (
	listBase   = "https://counseling.example.org/list"
	detailBase = "https://counseling.example.org/detail"
)

func listPageHTML(lastPage int, rows ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="counselors_list"><tbody>`)
	for _, r := range rows {
		b.WriteString(r)
	}
	b.WriteString(`</tbody></table><div class="paging">`)
	for p := 1; p <= lastPage; p++ {
		b.WriteString(`<a href="?page=` + strconv.Itoa(p) + `">` + strconv.Itoa(p) + `</a>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func listRowHTML(idx, name string) string {
	link := ""
	if idx != "" {
		link = `<a href="/detail?idx=` + idx + `">상세</a>`
	}
	return `<tr>` +
		`<td>서울</td><td>여성</td><td>` + name + `</td><td>개인상담</td>` +
		`<td>한마디</td><td>-</td><td>2019-03</td><td>` + link + `</td>` +
		`</tr>`
}

func detailPageHTML(name, email string) string {
	return `<html><body>
<table class="counselor_profile">
<tr><th>이름</th><td>` + name + `</td></tr>
<tr><th>성별</th><td>여성</td></tr>
<tr><th>이메일</th><td>` + email + `</td></tr>
</table>
<table class="counselor_info">
<tr><th>전문분야</th><td>개인상담, 심리검사</td></tr>
<tr><th>상담비용</th><td>5만원</td></tr>
</table>
</body></html>`
}

func testConfig() Config {
	return Config{
		ListURL:    listBase,
		DetailURL:  detailBase,
		PageDelay:  time.Millisecond,
		BatchPause: time.Millisecond,
		BatchSize:  2,
	}
}

func TestListCrawlerWalksPaginationAndUpserts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		listBase + "?page=1": listPageHTML(2,
			listRowHTML("10", "김상담"),
			listRowHTML("", "무명인"),
			listRowHTML("11", "이심리"),
		),
		listBase + "?page=2": listPageHTML(2, listRowHTML("12", "박마음")),
	}}
	records := newMemRecords()

	c := NewListCrawler(fetcher, records, testConfig(), zap.NewNop())
	upserted, err := c.CrawlAllPages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, upserted)

	rec, err := records.GetBySourceID(context.Background(), counselor.Source, "12")
	require.NoError(t, err)
	require.Equal(t, "박마음", rec.Name)
	require.Equal(t, "https://counseling.example.org/detail?idx=12", rec.DetailURL)
}

func TestListCrawlerPageOneFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	fetcher := &fakeFetcher{errs: map[string]error{listBase + "?page=1": boom}}

	c := NewListCrawler(fetcher, newMemRecords(), testConfig(), zap.NewNop())
	upserted, err := c.CrawlAllPages(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, upserted)
}

func TestListCrawlerLaterPageFailureContinues(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{
			listBase + "?page=1": listPageHTML(3, listRowHTML("10", "김상담")),
			listBase + "?page=3": listPageHTML(3, listRowHTML("30", "박마음")),
		},
		errs: map[string]error{listBase + "?page=2": errors.New("boom")},
	}
	records := newMemRecords()

	c := NewListCrawler(fetcher, records, testConfig(), zap.NewNop())
	upserted, err := c.CrawlAllPages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, upserted)
}

func TestListCrawlerHonorsMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		listBase + "?page=1": listPageHTML(5, listRowHTML("10", "김상담")),
		listBase + "?page=2": listPageHTML(5, listRowHTML("20", "이심리")),
	}}
	cfg := testConfig()
	cfg.MaxPages = 2

	c := NewListCrawler(fetcher, newMemRecords(), cfg, zap.NewNop())
	_, err := c.CrawlAllPages(context.Background())
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 2)
}

func TestListCrawlerIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		listBase + "?page=1": listPageHTML(1, listRowHTML("10", "김상담")),
	}}
	records := newMemRecords()
	c := NewListCrawler(fetcher, records, testConfig(), zap.NewNop())

	_, err := c.CrawlAllPages(context.Background())
	require.NoError(t, err)
	_, err = c.CrawlAllPages(context.Background())
	require.NoError(t, err)

	require.Len(t, records.byIdentity, 1)
}

func TestDetailCrawlerEnrichesInBatches(t *testing.T) {
	t.Parallel()

	records := newMemRecords()
	fetcher := &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}}
	for _, idx := range []string{"10", "11", "12"} {
		rec := &counselor.Record{Source: counselor.Source, SourceID: idx, Name: "이전이름"}
		require.NoError(t, records.Save(context.Background(), rec))
		fetcher.pages[detailBase+"?idx="+idx] = detailPageHTML("이름"+idx, "c"+idx+"@example.org")
	}
	fetcher.errs[detailBase+"?idx=11"] = errors.New("boom")

	c := NewDetailCrawler(fetcher, records, testConfig(), zap.NewNop())
	rep, err := c.CrawlAndEnrichAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Enriched)
	require.Equal(t, []string{"11"}, rep.Failed)

	rec, err := records.GetBySourceID(context.Background(), counselor.Source, "12")
	require.NoError(t, err)
	require.Equal(t, "c12@example.org", rec.Email)
	require.Equal(t, "개인상담/심리검사", rec.Specialty)
}

func TestDetailCrawlerSkipsRecordsWithoutSourceID(t *testing.T) {
	t.Parallel()

	records := newMemRecords()
	require.NoError(t, records.Save(context.Background(),
		&counselor.Record{Source: counselor.Source, Name: "무명인", Gender: "여성"}))
	require.NoError(t, records.Save(context.Background(),
		&counselor.Record{Source: counselor.Source, SourceID: "10", Name: "김상담"}))
	fetcher := &fakeFetcher{pages: map[string]string{
		detailBase + "?idx=10": detailPageHTML("김상담", "kim@example.org"),
	}}

	c := NewDetailCrawler(fetcher, records, testConfig(), zap.NewNop())
	rep, err := c.CrawlAndEnrichAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Enriched)
	require.Empty(t, rep.Failed)
	require.Len(t, fetcher.calls, 1)
}

func TestDetailCrawlerCrawlOneEnrichesStoredRecord(t *testing.T) {
	t.Parallel()

	records := newMemRecords()
	require.NoError(t, records.Save(context.Background(),
		&counselor.Record{Source: counselor.Source, SourceID: "10", Name: "이전이름"}))
	fetcher := &fakeFetcher{pages: map[string]string{
		detailBase + "?idx=10": detailPageHTML("김상담", "kim@example.org"),
	}}

	c := NewDetailCrawler(fetcher, records, testConfig(), zap.NewNop())
	require.True(t, c.CrawlOne(context.Background(), "10"))

	rec, err := records.GetBySourceID(context.Background(), counselor.Source, "10")
	require.NoError(t, err)
	require.Equal(t, "kim@example.org", rec.Email)
}

func TestDetailCrawlerCrawlOneUnknownSourceIDReturnsFalse(t *testing.T) {
	t.Parallel()

	records := newMemRecords()
	fetcher := &fakeFetcher{pages: map[string]string{
		detailBase + "?idx=99": detailPageHTML("신규상담", "new@example.org"),
	}}

	c := NewDetailCrawler(fetcher, records, testConfig(), zap.NewNop())
	require.False(t, c.CrawlOne(context.Background(), "99"))

	// no fetch and no row for an unknown source id
	require.Empty(t, fetcher.calls)
	_, err := records.GetBySourceID(context.Background(), counselor.Source, "99")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDetailCrawlerCrawlOneReportsFetchFailure(t *testing.T) {
	t.Parallel()

	records := newMemRecords()
	require.NoError(t, records.Save(context.Background(),
		&counselor.Record{Source: counselor.Source, SourceID: "99", Name: "김상담"}))
	fetcher := &fakeFetcher{errs: map[string]error{
		detailBase + "?idx=99": errors.New("boom"),
	}}
	c := NewDetailCrawler(fetcher, records, testConfig(), zap.NewNop())
	require.False(t, c.CrawlOne(context.Background(), "99"))
}

func TestOrchestratorRecordsSuccessfulRun(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		listBase + "?page=1":   listPageHTML(1, listRowHTML("10", "김상담")),
		detailBase + "?idx=10": detailPageHTML("김상담", "kim@example.org"),
	}}
	records := newMemRecords()
	runs := &memRuns{}
	cfg := testConfig()
	log := zap.NewNop()

	o := NewOrchestrator(
		NewListCrawler(fetcher, records, cfg, log),
		NewDetailCrawler(fetcher, records, cfg, log),
		runs, fixedClock{at: time.Unix(1700000000, 0).UTC()}, log,
	)
	res, err := o.RunOnce(context.Background(), "KCA_MONTHLY")
	require.NoError(t, err)
	require.Equal(t, 1, res.Upserted)
	require.Equal(t, 1, res.Enriched)

	rl, err := runs.Latest(context.Background(), "KCA_MONTHLY")
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, rl.Status)
	require.Equal(t, "OK (detail+1)", rl.Message)
	// the run log records the combined list and detail write count
	require.Equal(t, res.Total(), rl.UpsertedCount)
	require.Equal(t, 2, rl.UpsertedCount)
	require.NotNil(t, rl.FinishedAt)
}

func TestOrchestratorRecordsFailedRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("list down")
	fetcher := &fakeFetcher{errs: map[string]error{listBase + "?page=1": boom}}
	runs := &memRuns{}
	log := zap.NewNop()

	o := NewOrchestrator(
		NewListCrawler(fetcher, newMemRecords(), testConfig(), log),
		NewDetailCrawler(fetcher, newMemRecords(), testConfig(), log),
		runs, fixedClock{at: time.Unix(1700000000, 0).UTC()}, log,
	)
	_, err := o.RunOnce(context.Background(), "KCA_MONTHLY")
	require.ErrorIs(t, err, boom)

	rl, err := runs.Latest(context.Background(), "KCA_MONTHLY")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, rl.Status)
	require.Contains(t, rl.Message, "list down")
}
