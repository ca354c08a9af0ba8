// Package mapbox adapts the Mapbox Matrix and Geocoding APIs to the order
// service's TravelEstimator and Geocoder ports.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
)

const (
	DefaultBaseURL = "https://api.mapbox.com"

	// The Matrix API accepts 25 coordinates per request; one is the origin.
	maxDestinations = 24
)

type Client struct {
	log     *slog.Logger
	http    *http.Client
	token   string
	baseURL string
}

func NewClient(log *slog.Logger, token, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		log: log,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type matrixResponse struct {
	Code      string       `json:"code"`
	Durations [][]*float64 `json:"durations"`
	Distances [][]*float64 `json:"distances"`
}

// Estimate returns one TravelInfo per destination, aligned by index. Chunks
// run concurrently; when some fail, the rest are still returned together with
// the first error.
func (c *Client) Estimate(ctx context.Context, origin geo.Point, destinations []geo.Point) ([]domain.TravelInfo, error) {
	out := make([]domain.TravelInfo, len(destinations))
	if len(destinations) == 0 {
		return out, nil
	}

	var g errgroup.Group
	for start := 0; start < len(destinations); start += maxDestinations {
		start := start
		end := min(start+maxDestinations, len(destinations))
		g.Go(func() error {
			infos, err := c.matrix(ctx, origin, destinations[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], infos)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) matrix(ctx context.Context, origin geo.Point, dests []geo.Point) ([]domain.TravelInfo, error) {
	coords := make([]string, 0, len(dests)+1)
	coords = append(coords, lonLat(origin))
	for _, d := range dests {
		coords = append(coords, lonLat(d))
	}

	q := url.Values{}
	q.Set("sources", "0")
	q.Set("annotations", "duration,distance")
	q.Set("access_token", c.token)
	endpoint := c.baseURL + "/directions-matrix/v1/mapbox/driving/" + strings.Join(coords, ";") + "?" + q.Encode()

	var resp matrixResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "" && resp.Code != "Ok" {
		return nil, fmt.Errorf("%w: mapbox matrix returned %s", domain.ErrUpstreamUnavailable, resp.Code)
	}

	infos := make([]domain.TravelInfo, len(dests))
	for i := range dests {
		infos[i] = domain.TravelInfo{
			DurationSeconds: cell(resp.Durations, i+1),
			DistanceMeters:  cell(resp.Distances, i+1),
		}
	}
	return infos, nil
}

// cell reads row 0 of a matrix; the origin occupies column 0.
func cell(m [][]*float64, col int) *float64 {
	if len(m) == 0 || col >= len(m[0]) {
		return nil
	}
	return m[0][col]
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

func (c *Client) Geocode(ctx context.Context, address string) (geo.Point, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("access_token", c.token)
	endpoint := c.baseURL + "/geocoding/v5/mapbox.places/" + url.PathEscape(address) + ".json?" + q.Encode()

	var resp geocodeResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return geo.Point{}, err
	}
	if len(resp.Features) == 0 || len(resp.Features[0].Geometry.Coordinates) < 2 {
		return geo.Point{}, fmt.Errorf("%w: could not find coordinates for address", domain.ErrInvalidInput)
	}
	coords := resp.Features[0].Geometry.Coordinates
	p := geo.Point{Lat: coords[1], Lon: coords[0]}
	if err := p.Validate(); err != nil {
		return geo.Point{}, fmt.Errorf("%w: geocoder returned %v", domain.ErrUpstreamUnavailable, err)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		// url.Error carries the full URL including the token.
		return fmt.Errorf("%w: mapbox request failed", domain.ErrUpstreamUnavailable)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		c.log.Warn("mapbox non-200 response", "status", res.StatusCode, "path", req.URL.Path)
		return fmt.Errorf("%w: mapbox status %d", domain.ErrUpstreamUnavailable, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode mapbox response: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

func lonLat(p geo.Point) string {
	return strconv.FormatFloat(p.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
}
