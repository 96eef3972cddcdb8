package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	messageOK       = "OK"
	messageNotFound = "NOT_FOUND_OR_FAILED"
)

// crawlResult is the envelope every crawl trigger returns. Triggers always
// answer 200; the outcome lives in the message.
type crawlResult struct {
	Task               string    `json:"task"`
	Source             string    `json:"source"`
	UpsertedFromList   int       `json:"upsertedFromList"`
	EnrichedFromDetail int       `json:"enrichedFromDetail"`
	StartedAt          time.Time `json:"startedAt"`
	FinishedAt         time.Time `json:"finishedAt"`
	Message            string    `json:"message"`
}

type pagedRecords struct {
	Items []counselor.Record `json:"items"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
	Total int64              `json:"total"`
}

func (s *Server) crawlList(w http.ResponseWriter, r *http.Request) {
	res := crawlResult{Task: "list", Source: counselor.Source, StartedAt: s.clk.Now()}
	upserted, err := s.list.CrawlAllPages(r.Context())
	res.UpsertedFromList = upserted
	res.FinishedAt = s.clk.Now()
	res.Message = messageOK
	if err != nil {
		res.Message = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) crawlDetail(w http.ResponseWriter, r *http.Request) {
	res := crawlResult{Task: "detail", Source: counselor.Source, StartedAt: s.clk.Now()}
	rep, err := s.detail.CrawlAndEnrichAll(r.Context())
	res.EnrichedFromDetail = rep.Enriched
	res.FinishedAt = s.clk.Now()
	res.Message = messageOK
	if err != nil {
		res.Message = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) crawlAll(w http.ResponseWriter, r *http.Request) {
	res := crawlResult{Task: "all", Source: counselor.Source, StartedAt: s.clk.Now()}
	out, err := s.full.RunOnce(r.Context(), s.cfg.RunKey)
	res.UpsertedFromList = out.Upserted
	res.EnrichedFromDetail = out.Enriched
	res.FinishedAt = s.clk.Now()
	if err != nil {
		res.Message = err.Error()
		writeJSON(w, http.StatusOK, res)
		return
	}
	// the success message carries the enriched count, e.g. "OK (detail+42)"
	res.Message = messageOK
	if rl, err := s.runs.Latest(r.Context(), s.cfg.RunKey); err == nil {
		res.Message = rl.Message
	} else {
		s.logger.Warn("run log lookup failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, res)
}

type crawlOneRequest struct {
	SourceID string `json:"sourceId"`
}

func (s *Server) crawlOne(w http.ResponseWriter, r *http.Request) {
	var req crawlOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "missing sourceId")
		return
	}
	res := crawlResult{Task: "one", Source: counselor.Source, StartedAt: s.clk.Now()}
	if s.detail.CrawlOne(r.Context(), req.SourceID) {
		res.EnrichedFromDetail = 1
		res.Message = messageOK
	} else {
		res.Message = messageNotFound
	}
	res.FinishedAt = s.clk.Now()
	writeJSON(w, http.StatusOK, res)
}

// statusResponse combines the durable schedule row with a summary of the
// latest run. Absent rows leave their fields zeroed rather than erroring.
type statusResponse struct {
	Key            string     `json:"key"`
	Timezone       string     `json:"timezone"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      *time.Time `json:"nextRunAt"`
	LastRunAt      *time.Time `json:"lastRunAt"`
	LastStatus     string     `json:"lastStatus"`
	LastUpserted   int        `json:"lastUpserted"`
	LastFinishedAt *time.Time `json:"lastFinishedAt"`
	LastMessage    string     `json:"lastMessage"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	res := statusResponse{Key: s.cfg.RunKey}

	sched, err := s.schedules.Get(r.Context(), s.cfg.RunKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "schedule lookup failed")
		return
	}
	if sched != nil {
		res.Timezone = sched.Timezone
		res.Enabled = sched.Enabled
		next := sched.NextRunAt
		res.NextRunAt = &next
		res.LastRunAt = sched.LastRunAt
	}

	rl, err := s.runs.Latest(r.Context(), s.cfg.RunKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "run log lookup failed")
		return
	}
	if rl != nil {
		res.LastStatus = string(rl.Status)
		res.LastUpserted = rl.UpsertedCount
		res.LastFinishedAt = rl.FinishedAt
		res.LastMessage = rl.Message
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.records.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	page, size := pagination(r)
	recs, total, err := s.records.ListRecent(r.Context(), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "record query failed")
		return
	}
	writeJSON(w, http.StatusOK, pagedRecords{Items: emptyIfNil(recs), Page: page, Size: size, Total: total})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	page, size := pagination(r)
	q := store.ParseQuery(
		r.URL.Query().Get("region"),
		r.URL.Query().Get("specialty"),
		r.URL.Query().Get("targets"),
	)
	q.Sort = r.URL.Query().Get("sort")
	recs, total, err := s.records.Search(r.Context(), q, page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search query failed")
		return
	}
	writeJSON(w, http.StatusOK, pagedRecords{Items: emptyIfNil(recs), Page: page, Size: size, Total: total})
}

func pagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func emptyIfNil(recs []counselor.Record) []counselor.Record {
	if recs == nil {
		return []counselor.Record{}
	}
	return recs
}
