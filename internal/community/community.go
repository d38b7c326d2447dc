// Package community backs the community hub: post refinement, grounded news
// and nearby accessible care.
package community

import (
	"context"
	"fmt"
	"strings"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
)

const (
	// MaxNews caps the number of news links returned.
	MaxNews = 5

	// DefaultRegion scopes news searches.
	DefaultRegion = "South Africa"

	defaultNewsTitle   = "Latest Healthcare Update"
	defaultCareSummary = "Scan complete. Verified hospitals are listed below."

	refineFormat = "Refine this %s for a community board dedicated to the hearing impaired. Make it clear, supportive, and accessible. Text: \"%s\""
	newsFormat   = "Find %d latest healthcare, accessibility, and deaf community news updates in %s. Return them as a summary."
	carePrompt   = "Find the 5 closest hospitals, medical centers, and emergency clinics relative to my current location. " +
		"For each center, check if they provide specialized support for the hearing impaired or ASL/Sign Language interpretation services. " +
		"Provide a list with names and brief helpful descriptions."
)

// Category is the kind of community post.
type Category string

const (
	CategoryNews        Category = "News"
	CategoryUpdate      Category = "Update"
	CategoryTestimonial Category = "Testimonial"
)

// Care is the answer to a nearby-care search.
type Care struct {
	Summary string
	Places  []inference.GroundingLink
}

// Option configures a [Hub].
type Option func(*Hub)

// WithRegion overrides [DefaultRegion].
func WithRegion(region string) Option {
	return func(h *Hub) { h.region = region }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub serves community requests.
type Hub struct {
	text     inference.TextCompleter
	grounder inference.Grounder
	region   string
	metrics  *observe.Metrics
}

// New returns a Hub. text refines posts; grounder answers news and care
// searches.
func New(text inference.TextCompleter, grounder inference.Grounder, opts ...Option) *Hub {
	h := &Hub{text: text, grounder: grounder, region: DefaultRegion, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Refine rewrites a post for the board. It returns text unchanged when the
// request fails or the model answers with nothing.
func (h *Hub) Refine(ctx context.Context, text string, category Category) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if category == "" {
		category = CategoryUpdate
	}
	ctx, span := observe.StartSpan(ctx, "community.Refine")
	defer span.End()

	out, err := h.text.CompleteText(ctx, inference.TextRequest{
		Prompt: fmt.Sprintf(refineFormat, strings.ToLower(string(category)), text),
	})
	if err != nil {
		h.metrics.RecordProviderError(ctx, "inference", "refine")
		observe.Logger(ctx).Warn("community: refine failed", "err", err)
		return text
	}
	h.metrics.RecordProviderRequest(ctx, "inference", "refine", "ok")
	if out = strings.TrimSpace(out); out != "" {
		return out
	}
	return text
}

// News returns up to [MaxNews] web-grounded news links.
func (h *Hub) News(ctx context.Context) (_ []inference.GroundingLink, err error) {
	ctx, span := observe.StartSpan(ctx, "community.News")
	defer func() { observe.EndSpan(span, err) }()

	ans, err := h.grounder.Ground(ctx, inference.GroundingRequest{
		Prompt: fmt.Sprintf(newsFormat, MaxNews, h.region),
		Source: inference.GroundWebSearch,
	})
	if err != nil {
		h.metrics.RecordProviderError(ctx, "inference", "news")
		return nil, fmt.Errorf("community: news: %w", err)
	}
	h.metrics.RecordProviderRequest(ctx, "inference", "news", "ok")

	links := make([]inference.GroundingLink, 0, min(len(ans.Links), MaxNews))
	for _, l := range ans.Links {
		if len(links) == MaxNews {
			break
		}
		if l.Title == "" {
			l.Title = defaultNewsTitle
		}
		links = append(links, l)
	}
	return links, nil
}

// NearbyCare searches for hospitals and clinics near the coordinates that
// support hearing-impaired patients.
func (h *Hub) NearbyCare(ctx context.Context, lat, lng float64) (_ *Care, err error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("community: nearby care: coordinates (%g, %g) out of range", lat, lng)
	}
	ctx, span := observe.StartSpan(ctx, "community.NearbyCare")
	defer func() { observe.EndSpan(span, err) }()

	ans, err := h.grounder.Ground(ctx, inference.GroundingRequest{
		Prompt:    carePrompt,
		Source:    inference.GroundMaps,
		Latitude:  lat,
		Longitude: lng,
	})
	if err != nil {
		h.metrics.RecordProviderError(ctx, "inference", "maps")
		return nil, fmt.Errorf("community: nearby care: %w", err)
	}
	h.metrics.RecordProviderRequest(ctx, "inference", "maps", "ok")

	care := &Care{Summary: ans.Text, Places: ans.Links}
	if care.Summary == "" {
		care.Summary = defaultCareSummary
	}
	return care, nil
}
