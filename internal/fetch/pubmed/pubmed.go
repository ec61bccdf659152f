// Package pubmed implements a research.Fetcher on the NCBI E-utilities API.
//
// A search is two requests: esearch.fcgi ranks PMIDs for the term and
// efetch.fcgi returns the article records as XML. Results keep the esearch
// relevance order. NCBI throttles by IP (3 requests/s anonymous, 10 with an
// API key), so deployments should set WithAPIKey and keep a circuit breaker
// in front of this fetcher.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/internal/fetch"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/types"
)

// DefaultBaseURL is the public E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	defaultLimit          = 5
	defaultRequestTimeout = 10 * time.Second

	articleURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"
)

// languageFilters maps ISO 639-1 hints to the E-utilities language field
// values. Unknown codes are ignored rather than rejected.
var languageFilters = map[string]string{
	"it": "italian",
	"en": "english",
	"es": "spanish",
	"fr": "french",
	"de": "german",
}

// highImpactJournals is matched against the lowercased journal title.
var highImpactJournals = map[string]bool{
	"the new england journal of medicine": true,
	"lancet (london, england)":            true,
	"the lancet":                          true,
	"jama":                                true,
	"bmj (clinical research ed.)":         true,
	"nature medicine":                     true,
	"annals of internal medicine":         true,
}

// Compile-time assertion that Client implements research.Fetcher.
var _ research.Fetcher = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey attaches an NCBI API key to every request, raising the rate
// limit from 3 to 10 requests per second.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithBaseURL points the client at a different E-utilities deployment, e.g.
// an institutional mirror.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// Client talks to the E-utilities API. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// New creates a PubMed fetcher against the public NCBI endpoint.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements research.Fetcher.
func (c *Client) Search(ctx context.Context, q research.Query) ([]types.MedicalSource, error) {
	if strings.TrimSpace(q.Term) == "" {
		return nil, types.Errorf(types.KindValidation, "pubmed: empty search term")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	pmids, err := c.search(ctx, q.Term, q.Language, limit)
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	articles, err := c.fetchArticles(ctx, pmids)
	if err != nil {
		return nil, err
	}

	// Keep the esearch relevance order; efetch does not guarantee it.
	byPMID := make(map[string]pubmedArticle, len(articles))
	for _, a := range articles {
		byPMID[a.PMID] = a
	}
	sources := make([]types.MedicalSource, 0, len(pmids))
	for rank, pmid := range pmids {
		a, ok := byPMID[pmid]
		if !ok {
			continue
		}
		sources = append(sources, a.medicalSource(rank))
	}
	return sources, nil
}

// Source implements research.Fetcher.
func (c *Client) Source() types.SourceType {
	return types.SourcePubMed
}

// search runs esearch.fcgi and returns PMIDs, most relevant first.
func (c *Client) search(ctx context.Context, term, language string, limit int) ([]string, error) {
	if filter, ok := languageFilters[strings.ToLower(language)]; ok {
		term = fmt.Sprintf("%s AND %s[Language]", term, filter)
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(limit))
	params.Set("retmode", "json")
	params.Set("sort", "relevance")

	data, err := c.get(ctx, "/esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var out struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.Errorf(types.KindExternal, "pubmed: parse esearch response: %v", err)
	}
	return out.Result.IDList, nil
}

// fetchArticles runs efetch.fcgi for the given PMIDs.
func (c *Client) fetchArticles(ctx context.Context, pmids []string) ([]pubmedArticle, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")

	data, err := c.get(ctx, "/efetch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, types.Errorf(types.KindExternal, "pubmed: parse efetch response: %v", err)
	}
	return set.Articles, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed: create request: %w", err)
	}
	req.Header.Set("User-Agent", fetch.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "pubmed: http request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to read
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.Errorf(types.KindTransient, "pubmed: NCBI returned HTTP %d", resp.StatusCode)
	default:
		return nil, types.Errorf(types.KindExternal, "pubmed: NCBI returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Errorf(types.KindTransient, "pubmed: read response body: %v", err)
	}
	return data, nil
}

// PubmedArticleSet XML subset. Nested paths keep the structs flat.
type articleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	PMID      string         `xml:"MedlineCitation>PMID"`
	Title     string         `xml:"MedlineCitation>Article>ArticleTitle"`
	Journal   string         `xml:"MedlineCitation>Article>Journal>Title"`
	PubDate   pubDate        `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate"`
	Abstract  []abstractText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors   []author       `xml:"MedlineCitation>Article>AuthorList>Author"`
	Locations []eLocation    `xml:"MedlineCitation>Article>ELocationID"`
	Mesh      []string       `xml:"MedlineCitation>MeshHeadingList>MeshHeading>DescriptorName"`
}

type pubDate struct {
	Year  string `xml:"Year"`
	Month string `xml:"Month"`
	Day   string `xml:"Day"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type author struct {
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	CollectiveName string `xml:"CollectiveName"`
}

type eLocation struct {
	Type  string `xml:"EIdType,attr"`
	Value string `xml:",chardata"`
}

func (a pubmedArticle) medicalSource(rank int) types.MedicalSource {
	abstract, conclusions := a.abstractText()
	s := types.MedicalSource{
		ID:              uuid.NewString(),
		Title:           strings.TrimSuffix(strings.TrimSpace(a.Title), "."),
		URL:             articleURLPrefix + a.PMID + "/",
		Authors:         a.authorNames(),
		PublicationDate: a.PubDate.time(),
		DOI:             a.doi(),
		PMID:            a.PMID,
		Journal:         a.Journal,

		Abstract:    abstract,
		Conclusions: conclusions,
		Keywords:    a.Mesh,

		SourceType:      types.SourcePubMed,
		ContentCategory: "academic",
		TargetAudience:  "professional",

		PeerReviewed:      true,
		HighImpactJournal: highImpactJournals[strings.ToLower(a.Journal)],

		Relevance:  fetch.RankRelevance(rank),
		AccessType: types.AccessOpen,
	}
	s.ContentQuality = articleQuality(a, abstract)
	return s
}

// abstractText joins the abstract sections, labeling structured ones, and
// pulls the conclusions section out separately.
func (a pubmedArticle) abstractText() (abstract, conclusions string) {
	var parts []string
	for _, sec := range a.Abstract {
		text := strings.TrimSpace(sec.Text)
		if text == "" {
			continue
		}
		label := strings.TrimSpace(sec.Label)
		if label != "" {
			parts = append(parts, label+": "+text)
		} else {
			parts = append(parts, text)
		}
		if strings.EqualFold(label, "conclusion") || strings.EqualFold(label, "conclusions") {
			conclusions = text
		}
	}
	return strings.Join(parts, "\n"), conclusions
}

func (a pubmedArticle) authorNames() []string {
	var names []string
	for _, au := range a.Authors {
		switch {
		case au.CollectiveName != "":
			names = append(names, au.CollectiveName)
		case au.ForeName != "" && au.LastName != "":
			names = append(names, au.ForeName+" "+au.LastName)
		case au.LastName != "":
			names = append(names, au.LastName)
		}
	}
	return names
}

func (a pubmedArticle) doi() string {
	for _, loc := range a.Locations {
		if strings.EqualFold(loc.Type, "doi") {
			return strings.TrimSpace(loc.Value)
		}
	}
	return ""
}

// articleQuality scores record completeness. The weights sum to 1.0.
func articleQuality(a pubmedArticle, abstract string) float64 {
	q := 0.4
	if abstract != "" {
		q += 0.25
	}
	if a.doi() != "" {
		q += 0.15
	}
	if len(a.Mesh) > 0 {
		q += 0.1
	}
	if a.Journal != "" {
		q += 0.1
	}
	return q
}

// months accepts both the English abbreviations PubMed uses and numeric
// months.
var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// time resolves the PubDate to a UTC timestamp. Records carrying only a
// MedlineDate range have no Year element and yield nil.
func (d pubDate) time() *time.Time {
	year, err := strconv.Atoi(strings.TrimSpace(d.Year))
	if err != nil {
		return nil
	}
	month := time.July
	raw := strings.ToLower(strings.TrimSpace(d.Month))
	if m, ok := months[raw]; ok {
		month = m
	} else if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 12 {
		month = time.Month(n)
	}
	day := 1
	if n, err := strconv.Atoi(strings.TrimSpace(d.Day)); err == nil && n >= 1 && n <= 31 {
		day = n
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}
