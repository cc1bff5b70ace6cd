// Package weather looks up current conditions via the Open-Meteo API:
// a geocoding call to resolve the place, then a forecast call.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultGeoURL      = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

// Client queries Open-Meteo. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	geoURL      string
	forecastURL string
	units       string
	lang        string
}

// New creates a Client. units is "metric" or "imperial".
func New(units, lang string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		geoURL:      defaultGeoURL,
		forecastURL: defaultForecastURL,
		units:       units,
		lang:        lang,
	}
}

type geoResponse struct {
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Country   string  `json:"country"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		FeelsLike   float64 `json:"apparent_temperature"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode *int    `json:"weather_code"`
	} `json:"current"`
}

// Current returns a one-line report for place, sized for a radio reply.
func (c *Client) Current(ctx context.Context, place string) (string, error) {
	lat, lon, name, country, err := c.geocode(ctx, place)
	if err != nil {
		return "", err
	}

	fc, err := c.forecast(ctx, lat, lon)
	if err != nil {
		return "", err
	}

	tUnit, wUnit := "°C", "km/h"
	if c.units == "imperial" {
		tUnit, wUnit = "°F", "mph"
	}

	loc := name
	if country != "" {
		loc += ", " + country
	}
	return fmt.Sprintf("🌦️ %s: %.1f%s (feels like %.1f%s), %s, wind %.1f %s",
		loc,
		fc.Current.Temperature, tUnit,
		fc.Current.FeelsLike, tUnit,
		codeText(fc.Current.WeatherCode),
		fc.Current.WindSpeed, wUnit,
	), nil
}

func (c *Client) geocode(ctx context.Context, place string) (lat, lon float64, name, country string, err error) {
	params := url.Values{
		"name":     {place},
		"count":    {"1"},
		"language": {c.lang},
		"format":   {"json"},
	}

	var resp geoResponse
	if err = c.getJSON(ctx, c.geoURL, params, &resp); err != nil {
		return 0, 0, "", "", fmt.Errorf("geocode %q: %w", place, err)
	}
	if len(resp.Results) == 0 {
		return 0, 0, "", "", fmt.Errorf("location not found: %s", place)
	}

	r := resp.Results[0]
	if r.Name == "" {
		r.Name = place
	}
	return r.Latitude, r.Longitude, r.Name, r.Country, nil
}

func (c *Client) forecast(ctx context.Context, lat, lon float64) (*forecastResponse, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', 4, 64)},
		"current":   {"temperature_2m,apparent_temperature,wind_speed_10m,weather_code"},
	}
	if c.units == "imperial" {
		params.Set("temperature_unit", "fahrenheit")
		params.Set("wind_speed_unit", "mph")
	} else {
		params.Set("temperature_unit", "celsius")
		params.Set("wind_speed_unit", "kmh")
	}

	var resp forecastResponse
	if err := c.getJSON(ctx, c.forecastURL, params, &resp); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, base string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
