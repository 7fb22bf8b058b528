// Package storage persists series.Series to disk in a gzip+CSV layout
// keyed by query fingerprint, and serves it back to the pipeline's load
// path as a cache tier ahead of the exchange connectors.
package storage

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskrow/perpbacktest/internal/series"
)

// Store reads and writes series data under a nested, content-addressed
// directory layout: <base>/<exchange>/<symbol>/<kind>/<timeframe>/<start>_<end>.csv.gz
type Store struct {
	base string
	log  zerolog.Logger
}

// New builds a Store rooted at base, creating it if missing.
func New(base string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &Store{base: base, log: log}, nil
}

func (s *Store) pathFor(q series.Query) string {
	symbolDir := sanitizeSymbol(q.Symbol)
	fname := fmt.Sprintf("%d_%d.csv.gz", q.Start.UTC().Unix(), q.End.UTC().Unix())
	tf := string(q.Timeframe)
	if tf == "" {
		tf = "native"
	}
	return filepath.Join(s.base, q.Exchange, symbolDir, string(q.Kind), tf, fname)
}

// legacyPathFor mirrors an older flat layout this Store still reads (but
// never writes) so data collected before the nested layout was introduced
// keeps working without a migration step. The fingerprint's "/" (from the
// symbol) becomes "-" so the file sits directly under base.
func (s *Store) legacyPathFor(q series.Query) string {
	return filepath.Join(s.base, sanitizeSymbol(q.Fingerprint())+".csv.gz")
}

func sanitizeSymbol(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' {
			r = '-'
		}
		out = append(out, r)
	}
	return string(out)
}

// Has reports whether a query's data is already on disk, in either layout.
func (s *Store) Has(q series.Query) bool {
	if _, err := os.Stat(s.pathFor(q)); err == nil {
		return true
	}
	_, err := os.Stat(s.legacyPathFor(q))
	return err == nil
}

// Write atomically persists ser under q's fingerprint: the CSV is built
// in a temp file beside the destination, then renamed into place, so a
// reader never observes a partially-written file.
func (s *Store) Write(q series.Query, ser series.Series) error {
	dest := s.pathFor(q)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("storage: create dir for %s: %w", dest, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*.csv.gz")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if err := writeCompressed(tmp, ser); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("storage: rename into place: %w", err)
	}

	s.log.Debug().Str("path", dest).Int("points", ser.Len()).Msg("wrote series")
	return nil
}

func writeCompressed(w io.Writer, ser series.Series) error {
	gz := gzip.NewWriter(w)
	cw := csv.NewWriter(gz)

	rows, err := encodeRows(ser)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("storage: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return gz.Close()
}

// Read loads a series for q, preferring the nested layout and falling
// back to the legacy flat layout. Returns os.ErrNotExist (wrapped) when
// neither is present.
func (s *Store) Read(q series.Query) (series.Series, error) {
	path := s.pathFor(q)
	if _, err := os.Stat(path); err != nil {
		legacy := s.legacyPathFor(q)
		if _, err2 := os.Stat(legacy); err2 != nil {
			return series.Series{}, fmt.Errorf("storage: no data for %s: %w", q.Fingerprint(), os.ErrNotExist)
		}
		path = legacy
	}

	f, err := os.Open(path)
	if err != nil {
		return series.Series{}, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return series.Series{}, fmt.Errorf("storage: gzip reader for %s: %w", path, err)
	}
	defer gz.Close()

	return decodeRows(q, gz)
}

func encodeRows(ser series.Series) ([][]string, error) {
	var rows [][]string
	switch ser.Kind {
	case series.KindOHLCV:
		for _, b := range ser.Bars {
			rows = append(rows, []string{
				strconv.FormatInt(b.Time.UTC().Unix(), 10),
				strconv.FormatFloat(b.Open, 'f', -1, 64),
				strconv.FormatFloat(b.High, 'f', -1, 64),
				strconv.FormatFloat(b.Low, 'f', -1, 64),
				strconv.FormatFloat(b.Close, 'f', -1, 64),
				strconv.FormatFloat(b.Volume, 'f', -1, 64),
			})
		}
	case series.KindFundingRate:
		for _, p := range ser.Funding {
			rows = append(rows, []string{strconv.FormatInt(p.Time.UTC().Unix(), 10), strconv.FormatFloat(p.Rate, 'f', -1, 64)})
		}
	case series.KindOpenInterest:
		for _, p := range ser.OpenInterest {
			rows = append(rows, []string{strconv.FormatInt(p.Time.UTC().Unix(), 10), strconv.FormatFloat(p.Value, 'f', -1, 64)})
		}
	case series.KindBasis:
		for _, p := range ser.Basis {
			rows = append(rows, []string{
				strconv.FormatInt(p.Time.UTC().Unix(), 10),
				strconv.FormatFloat(p.Perp, 'f', -1, 64),
				strconv.FormatFloat(p.Spot, 'f', -1, 64),
				strconv.FormatFloat(p.Basis, 'f', -1, 64),
			})
		}
	case series.KindLiquidations:
		for _, p := range ser.Liquidations {
			rows = append(rows, []string{
				strconv.FormatInt(p.Time.UTC().Unix(), 10),
				strconv.FormatFloat(p.BuyVol, 'f', -1, 64),
				strconv.FormatFloat(p.SellVol, 'f', -1, 64),
			})
		}
	case series.KindLongShortRatio:
		for _, p := range ser.LongShort {
			rows = append(rows, []string{
				strconv.FormatInt(p.Time.UTC().Unix(), 10),
				strconv.FormatFloat(p.LongCount, 'f', -1, 64),
				strconv.FormatFloat(p.ShortCount, 'f', -1, 64),
			})
		}
	default:
		return nil, fmt.Errorf("storage: unknown series kind %q", ser.Kind)
	}
	return rows, nil
}

func decodeRows(q series.Query, r io.Reader) (series.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	out := series.Series{Exchange: q.Exchange, Symbol: q.Symbol, Kind: q.Kind, Timeframe: q.Timeframe, Start: q.Start, End: q.End}

	rows, err := cr.ReadAll()
	if err != nil {
		return series.Series{}, fmt.Errorf("storage: read csv: %w", err)
	}

	for _, row := range rows {
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return series.Series{}, fmt.Errorf("storage: malformed timestamp %q: %w", row[0], err)
		}
		t := time.Unix(ts, 0).UTC()

		switch q.Kind {
		case series.KindOHLCV:
			vals, err := parseFloats(row[1:6])
			if err != nil {
				return series.Series{}, err
			}
			out.Bars = append(out.Bars, series.Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
		case series.KindFundingRate:
			vals, err := parseFloats(row[1:2])
			if err != nil {
				return series.Series{}, err
			}
			out.Funding = append(out.Funding, series.FundingPoint{Time: t, Rate: vals[0]})
		case series.KindOpenInterest:
			vals, err := parseFloats(row[1:2])
			if err != nil {
				return series.Series{}, err
			}
			out.OpenInterest = append(out.OpenInterest, series.OpenInterestPoint{Time: t, Value: vals[0]})
		case series.KindBasis:
			vals, err := parseFloats(row[1:4])
			if err != nil {
				return series.Series{}, err
			}
			out.Basis = append(out.Basis, series.BasisPoint{Time: t, Perp: vals[0], Spot: vals[1], Basis: vals[2]})
		case series.KindLiquidations:
			vals, err := parseFloats(row[1:3])
			if err != nil {
				return series.Series{}, err
			}
			out.Liquidations = append(out.Liquidations, series.LiquidationPoint{Time: t, BuyVol: vals[0], SellVol: vals[1]})
		case series.KindLongShortRatio:
			vals, err := parseFloats(row[1:3])
			if err != nil {
				return series.Series{}, err
			}
			out.LongShort = append(out.LongShort, series.LongShortPoint{Time: t, LongCount: vals[0], ShortCount: vals[1]})
		default:
			return series.Series{}, fmt.Errorf("storage: unknown series kind %q", q.Kind)
		}
	}

	sortSeries(&out)
	return out, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("storage: malformed float %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func sortSeries(s *series.Series) {
	switch s.Kind {
	case series.KindOHLCV:
		sort.Slice(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })
	case series.KindFundingRate:
		sort.Slice(s.Funding, func(i, j int) bool { return s.Funding[i].Time.Before(s.Funding[j].Time) })
	case series.KindOpenInterest:
		sort.Slice(s.OpenInterest, func(i, j int) bool { return s.OpenInterest[i].Time.Before(s.OpenInterest[j].Time) })
	case series.KindBasis:
		sort.Slice(s.Basis, func(i, j int) bool { return s.Basis[i].Time.Before(s.Basis[j].Time) })
	case series.KindLiquidations:
		sort.Slice(s.Liquidations, func(i, j int) bool { return s.Liquidations[i].Time.Before(s.Liquidations[j].Time) })
	case series.KindLongShortRatio:
		sort.Slice(s.LongShort, func(i, j int) bool { return s.LongShort[i].Time.Before(s.LongShort[j].Time) })
	}
}
