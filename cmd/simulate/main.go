package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/logging"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

// simulate drives concurrent front desks against a running api-server.
// Workers race for the same early slots so the reservation and booking
// conflict paths are exercised, then an audit checks that no slot ended
// up with two occupying appointments.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Clinics      int
	Doctors      int
	Days         int
	AbandonRatio float64
	ReadRatio    float64
	// HotSlots is how many of the earliest free slots workers pick from.
	HotSlots     int
}

type target struct {
	ClinicID string
	DoctorID string
	Date     string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	ReadSlots OperationMetrics
	Reserve   OperationMetrics
	Book      OperationMetrics
	Abandon   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	targets []target
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	log, err := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("hot_slots", cfg.HotSlots),
	)

	sim := &Simulator{
		config:  cfg,
		targets: buildTargets(cfg, time.Now()),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}

	sim.Run()
	sim.PrintReport()

	duplicates, err := sim.Audit(context.Background())
	if err != nil {
		log.Fatal("audit failed", zap.Error(err))
	}
	if duplicates > 0 {
		log.Error("audit found double-booked slots", zap.Int("slots", duplicates))
		os.Exit(1)
	}
	log.Info("audit passed, every slot has at most one appointment")
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Clinics:      getInt("SIM_CLINICS", 3),
		Doctors:      getInt("SIM_DOCTORS", 4),
		Days:         getInt("SIM_DAYS", 10),
		AbandonRatio: getFloat("SIM_ABANDON_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Clinics <= 0 || cfg.Doctors <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_CLINICS, SIM_DOCTORS and SIM_DAYS must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

// buildTargets mirrors the ids cmd/seed writes.
func buildTargets(cfg SimConfig, today time.Time) []target {
	var out []target
	for c := 1; c <= cfg.Clinics; c++ {
		for d := 1; d <= cfg.Doctors; d++ {
			for i := 0; i < cfg.Days; i++ {
				out = append(out, target{
					ClinicID: fmt.Sprintf("clinic-%d", c),
					DoctorID: fmt.Sprintf("doctor-%d-%02d", c, d),
					Date:     today.AddDate(0, 0, i).Format("2006-01-02"),
				})
			}
		}
	}
	return out
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	owner := fmt.Sprintf("sim-desk-%d", workerID)

	for ctx.Err() == nil {
		t := s.targets[rng.Intn(len(s.targets))]

		slots, ok := s.readSlots(ctx, t)
		if !ok || rng.Float64() < s.config.ReadRatio {
			continue
		}

		free := freeSlots(slots, s.config.HotSlots)
		if len(free) == 0 {
			continue
		}
		at := free[rng.Intn(len(free))]

		res, ok := s.reserve(ctx, t, at, owner)
		if !ok {
			continue
		}
		if rng.Float64() < s.config.AbandonRatio {
			s.abandon(ctx, res.ID)
			continue
		}
		s.book(ctx, t, at, res.ID, workerID)
	}
}

func freeSlots(slots []availability.AvailableSlot, limit int) []string {
	var out []string
	for _, sl := range slots {
		if sl.State() == availability.SlotFree {
			out = append(out, sl.Time)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (s *Simulator) readSlots(ctx context.Context, t target) ([]availability.AvailableSlot, bool) {
	var body struct {
		Slots []availability.AvailableSlot `json:"slots"`
	}
	path := fmt.Sprintf("/clinics/%s/doctors/%s/slots?date=%s", url.PathEscape(t.ClinicID), url.PathEscape(t.DoctorID), t.Date)

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, path, nil, &body)
	s.metrics.ReadSlots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
	return body.Slots, err == nil && status == http.StatusOK
}

func (s *Simulator) reserve(ctx context.Context, t target, at, owner string) (*reservation.Reservation, bool) {
	req := map[string]string{
		"clinic_id":   t.ClinicID,
		"doctor_id":   t.DoctorID,
		"date":        t.Date,
		"time":        at,
		"reserved_by": string(reservation.ReservedByInteractive),
		"owner_id":    owner,
	}
	var res reservation.Reservation

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/reservations", req, &res)
	s.metrics.Reserve.Record(time.Since(start), err == nil && status == http.StatusCreated, status == http.StatusConflict)
	return &res, err == nil && status == http.StatusCreated
}

func (s *Simulator) abandon(ctx context.Context, reservationID string) {
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/reservations/"+url.PathEscape(reservationID)+"/cancel", nil, nil)
	s.metrics.Abandon.Record(time.Since(start), err == nil && status < 300, false)
}

func (s *Simulator) book(ctx context.Context, t target, at, reservationID string, workerID int) {
	req := appointment.CreateInput{
		ClinicID:      t.ClinicID,
		DoctorID:      t.DoctorID,
		PatientName:   fmt.Sprintf("Sim Patient %d-%d", workerID, time.Now().UnixNano()%100000),
		Date:          t.Date,
		Time:          at,
		ReservationID: reservationID,
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, "/appointments", req, nil)
	s.metrics.Book.Record(time.Since(start), err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

// Audit lists every simulated doctor-day and counts slots holding more
// than one occupying appointment.
func (s *Simulator) Audit(ctx context.Context) (int, error) {
	duplicates := 0
	for _, t := range s.targets {
		var list []appointment.Appointment
		q := url.Values{"clinic_id": {t.ClinicID}, "doctor_id": {t.DoctorID}, "date": {t.Date}}
		status, err := s.do(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil, &list)
		if err != nil {
			return duplicates, err
		}
		if status != http.StatusOK {
			return duplicates, fmt.Errorf("list %s/%s %s: status %d", t.ClinicID, t.DoctorID, t.Date, status)
		}

		seen := make(map[string]int)
		for _, a := range list {
			if a.Status.OccupiesSlot() {
				seen[a.Time]++
			}
		}
		for at, n := range seen {
			if n > 1 {
				duplicates++
				s.log.Error("double booking",
					zap.String("clinic_id", t.ClinicID),
					zap.String("doctor_id", t.DoctorID),
					zap.String("date", t.Date),
					zap.String("time", at),
					zap.Int("appointments", n),
				)
			}
		}
	}
	return duplicates, nil
}

func (s *Simulator) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Targets: %d doctor-days, %d hot slots each\n", len(s.targets), s.config.HotSlots)
	fmt.Println()

	printOperationReport("Read slots", &s.metrics.ReadSlots)
	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Abandon", &s.metrics.Abandon)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
