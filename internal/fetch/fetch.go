// Package fetch holds the wire schema shared by the source fetchers in its
// subpackages. WHO, NIH and the MCP knowledge bases are all reached through
// deployment-side gateways that answer with the same document shape, so the
// JSON mapping to types.MedicalSource lives here once; PubMed speaks the
// NCBI E-utilities protocol and carries its own mapping.
package fetch

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/pkg/types"
)

// UserAgent identifies outbound research traffic. NCBI and most
// institutional gateways require a contactable user agent.
const UserAgent = "aulavox-research/1.0 (+https://github.com/aulavox/aulavox)"

// dateLayouts are the publication date formats gateways emit, most specific
// first.
var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}

// Document is one hit returned by an institutional search gateway or an MCP
// knowledge-base tool.
type Document struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Authors     []string `json:"authors,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	Journal     string   `json:"journal,omitempty"`

	Abstract    string   `json:"abstract,omitempty"`
	KeyPoints   []string `json:"key_points,omitempty"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Conclusions string   `json:"conclusions,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	Category     string `json:"category,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
	Audience     string `json:"audience,omitempty"`
	PeerReviewed bool   `json:"peer_reviewed,omitempty"`
	Access       string `json:"access,omitempty"`

	// Score is the gateway's own relevance ranking in [0,1]. Zero means
	// the gateway does not rank and the list order decides.
	Score float64 `json:"score,omitempty"`

	// Quality is the gateway's content-quality estimate in [0,1]. Zero
	// means it is derived from which content fields are filled.
	Quality float64 `json:"quality,omitempty"`
}

// MedicalSource converts the document into a source attributed to origin.
// official marks institutional publishers whose pages carry authority
// without peer review. rank is the zero-based position in the result list
// and seeds the relevance score when the gateway did not rank.
//
// Authority, Recency and OverallScore stay zero; research.FinalizeSource
// derives them so every origin is scored by the same rules.
func (d Document) MedicalSource(origin types.SourceType, official bool, rank int) types.MedicalSource {
	s := types.MedicalSource{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(d.Title),
		URL:             d.URL,
		Authors:         d.Authors,
		PublicationDate: ParseDate(d.PublishedAt),
		DOI:             d.DOI,
		Journal:         d.Journal,

		Abstract:        d.Abstract,
		KeyPoints:       d.KeyPoints,
		RelevantExcerpt: d.Excerpt,
		Conclusions:     d.Conclusions,
		Keywords:        d.Keywords,

		SourceType:      origin,
		ContentCategory: d.Category,
		Specialty:       d.Specialty,
		TargetAudience:  d.Audience,

		PeerReviewed:   d.PeerReviewed,
		OfficialSource: official,

		Relevance:      d.Score,
		ContentQuality: d.Quality,
		AccessType:     accessType(d.Access),
	}
	if s.Relevance <= 0 {
		s.Relevance = RankRelevance(rank)
	}
	if s.ContentQuality <= 0 {
		s.ContentQuality = contentQuality(d)
	}
	return s
}

// ParseDate interprets the publication date formats gateways emit: RFC 3339,
// a calendar date, a year-month, or a bare year. Returns nil for anything
// else so a bad date degrades the recency score instead of failing the
// fetch.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if year, err := strconv.Atoi(s); err == nil && year >= 1800 && year <= 9999 {
		t := time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

// RankRelevance maps a zero-based result position to a relevance score for
// sources whose backend ranks but does not expose numeric scores.
func RankRelevance(rank int) float64 {
	score := 0.95 - 0.07*float64(rank)
	if score < 0.4 {
		return 0.4
	}
	return score
}

// contentQuality estimates usable content from which fields are filled.
// The weights sum to 1.0 with every field present.
func contentQuality(d Document) float64 {
	q := 0.4
	if d.Abstract != "" {
		q += 0.2
	}
	if d.Excerpt != "" || len(d.KeyPoints) > 0 {
		q += 0.15
	}
	if d.Conclusions != "" {
		q += 0.15
	}
	if len(d.Keywords) > 0 {
		q += 0.1
	}
	return q
}

func accessType(s string) types.AccessType {
	switch types.AccessType(strings.ToLower(strings.TrimSpace(s))) {
	case types.AccessSubscription:
		return types.AccessSubscription
	case types.AccessRestricted:
		return types.AccessRestricted
	default:
		return types.AccessOpen
	}
}
