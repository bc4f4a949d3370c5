package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
)

const (
	FieldName = "name"
	FieldFlow = "flow"
	FieldCOD  = "cod"
	FieldNH3N = "nh3n"
)

// Site is the typed view of one site record. Readings the backend did not
// send are left invalid.
type Site struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Status    string              `json:"status"`
	Flow      decimal.NullDecimal `json:"flow"`
	COD       decimal.NullDecimal `json:"cod"`
	NH3N      decimal.NullDecimal `json:"nh3n"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Online reports whether the backend marked the site as online
func (s Site) Online() bool {
	return s.Status != "" && s.Status != base.DefaultStatus
}

// SiteFromRecord converts a decoded record. The record must carry an id.
func SiteFromRecord(record base.Record, updatedAt time.Time) (Site, error) {
	site := Site{
		ID:        record.ID(),
		Status:    record.Status(),
		UpdatedAt: updatedAt,
	}
	if site.ID == "" {
		return Site{}, fmt.Errorf("record has no id")
	}
	if name, ok := record[FieldName].(string); ok {
		site.Name = name
	}
	if site.Status == "" {
		site.Status = base.DefaultStatus
	}

	var err error
	if site.Flow, err = reading(record, FieldFlow); err != nil {
		return Site{}, err
	}
	if site.COD, err = reading(record, FieldCOD); err != nil {
		return Site{}, err
	}
	if site.NH3N, err = reading(record, FieldNH3N); err != nil {
		return Site{}, err
	}
	return site, nil
}

func reading(record base.Record, field string) (decimal.NullDecimal, error) {
	var (
		value decimal.Decimal
		err   error
	)
	switch v := record[field].(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case json.Number:
		value, err = decimal.NewFromString(v.String())
	case float64:
		value = decimal.NewFromFloat(v)
	case int:
		value = decimal.NewFromInt(int64(v))
	case int64:
		value = decimal.NewFromInt(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.NullDecimal{}, nil
		}
		value, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.NullDecimal{}, fmt.Errorf("field %s has unsupported type %T", field, v)
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("field %s: %w", field, err)
	}
	return decimal.NewNullDecimal(value), nil
}

// SiteStore holds the latest typed site table
type SiteStore struct {
	mu    sync.RWMutex
	sites map[string]Site
}

func NewSiteStore() *SiteStore {
	return &SiteStore{sites: make(map[string]Site)}
}

// Replace swaps the whole table for records. Records that fail conversion
// are skipped and reported.
func (s *SiteStore) Replace(records []base.Record, now time.Time) []error {
	sites, errs := convert(records, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = make(map[string]Site, len(sites))
	for _, site := range sites {
		s.sites[site.ID] = site
	}
	return errs
}

// Upsert updates or adds the sites in records
func (s *SiteStore) Upsert(records []base.Record, now time.Time) []error {
	sites, errs := convert(records, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, site := range sites {
		s.sites[site.ID] = site
	}
	return errs
}

// List returns every site ordered by id
func (s *SiteStore) List() []Site {
	s.mu.RLock()
	sites := make([]Site, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, site)
	}
	s.mu.RUnlock()

	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	return sites
}

func (s *SiteStore) Get(id string) (Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	return site, ok
}

func (s *SiteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sites)
}

func convert(records []base.Record, now time.Time) ([]Site, []error) {
	sites := make([]Site, 0, len(records))
	var errs []error
	for _, record := range records {
		site, err := SiteFromRecord(record, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("site %q: %w", record.ID(), err))
			continue
		}
		sites = append(sites, site)
	}
	return sites, errs
}
