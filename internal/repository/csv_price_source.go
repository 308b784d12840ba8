package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
	"mlass/pkg/util"
)

// CSVPriceSource reads closes from a CSV file with a header row. The Close
// column is required and matched case-insensitively; Date is optional.
type CSVPriceSource struct{}

func NewCSVPriceSource() domrepo.PriceSource {
	return &CSVPriceSource{}
}

func (s *CSVPriceSource) Load(ctx context.Context, path string, limit int) (models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return models.PriceSeries{}, fmt.Errorf("%w: %w", models.ErrDataUnavailable, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return models.PriceSeries{}, fmt.Errorf("%w: %w", models.ErrDataUnavailable, err)
	}
	defer f.Close()

	series, err := readPrices(csv.NewReader(f), limit)
	if err != nil {
		return models.PriceSeries{}, fmt.Errorf("%w: %s: %w", models.ErrDataUnavailable, path, err)
	}
	series.Source = path
	return series, nil
}

func readPrices(r *csv.Reader, limit int) (models.PriceSeries, error) {
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.PriceSeries{}, fmt.Errorf("empty file")
		}
		return models.PriceSeries{}, err
	}
	closeCol, dateCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "close":
			closeCol = i
		case "date":
			dateCol = i
		}
	}
	if closeCol < 0 {
		return models.PriceSeries{}, fmt.Errorf("no Close column in header %v", header)
	}

	var series models.PriceSeries
	for line := 2; limit <= 0 || series.Len() < limit; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.PriceSeries{}, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.PriceSeries{}, fmt.Errorf("line %d: bad close %q", line, rec[closeCol])
		}
		p := models.PricePoint{Close: v}
		if dateCol >= 0 {
			p.Date, _ = util.ParseTime(rec[dateCol])
		}
		series.Points = append(series.Points, p)
	}
	return series, nil
}
