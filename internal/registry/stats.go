package registry

import (
	"sort"

	"github.com/edvin/certverify/internal/model"
)

type statsAccumulator struct {
	s        Stats
	byType   map[string]*TypeCount
	byStatus map[string]*StatusCount
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{byType: map[string]*TypeCount{}, byStatus: map[string]*StatusCount{}}
}

func (a *statsAccumulator) add(mime, kind, status string, count, bytes int64) {
	a.s.Total += count
	a.s.TotalBytes += bytes
	switch status {
	case model.StatusActive:
		a.s.Active += count
	case model.StatusRevoked:
		a.s.Revoked += count
	}
	switch kind {
	case model.ArtifactKindImage:
		a.s.Images += count
	case model.ArtifactKindPDF:
		a.s.PDFs += count
	}

	tc, ok := a.byType[mime]
	if !ok {
		tc = &TypeCount{MimeType: mime}
		a.byType[mime] = tc
	}
	tc.Count += count
	tc.Bytes += bytes

	sc, ok := a.byStatus[status]
	if !ok {
		sc = &StatusCount{Status: status}
		a.byStatus[status] = sc
	}
	sc.Count += count
}

// result returns the stats with breakdowns sorted by descending count.
func (a *statsAccumulator) result() *Stats {
	out := a.s
	out.ByType = make([]TypeCount, 0, len(a.byType))
	for _, tc := range a.byType {
		out.ByType = append(out.ByType, *tc)
	}
	sort.Slice(out.ByType, func(i, j int) bool {
		if out.ByType[i].Count != out.ByType[j].Count {
			return out.ByType[i].Count > out.ByType[j].Count
		}
		return out.ByType[i].MimeType < out.ByType[j].MimeType
	})
	out.ByStatus = make([]StatusCount, 0, len(a.byStatus))
	for _, sc := range a.byStatus {
		out.ByStatus = append(out.ByStatus, *sc)
	}
	sort.Slice(out.ByStatus, func(i, j int) bool {
		if out.ByStatus[i].Count != out.ByStatus[j].Count {
			return out.ByStatus[i].Count > out.ByStatus[j].Count
		}
		return out.ByStatus[i].Status < out.ByStatus[j].Status
	})
	return &out
}
